// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/visslink/visrpc/channel"
	"github.com/visslink/visrpc/metrics"
)

// A Server is one server-side protocol session, bound to a single client
// connection. Frames received from the client are processed strictly in
// the order received, so replies and acknowledgments are delivered in
// request order. Signal notifications interleave with replies on the same
// channel but never split a frame.
type Server struct {
	mux  Assigner     // associates function names with handlers
	reg  *Registry    // where subscriptions are recorded
	log  Logger       // write debug logs here
	m    *metrics.M   // metrics collected during execution
	now  func() int64 // timestamp source for outbound frames
	base func() context.Context

	wg sync.WaitGroup // done when the reader has exited

	mu     sync.Mutex // protects the fields below; serializes sends
	ch     channel.Channel
	err    error
	cancel context.CancelFunc
}

// NewServer returns a new unstarted server that will dispatch incoming
// calls according to mux. To start serving, call Start.
//
// If opts does not supply a registry, the server uses a private one, so
// its subscriptions see only values published through that server's
// Registry method.
//
// This function will panic if mux == nil.
func NewServer(mux Assigner, opts *ServerOptions) *Server {
	if mux == nil {
		panic("nil assigner")
	}
	reg := opts.registry()
	if reg == nil {
		reg = NewRegistry(&RegistryOptions{Logger: opts.logFunc(), Metrics: opts.metrics()})
	}
	return &Server{
		mux:  mux,
		reg:  reg,
		log:  opts.logFunc(),
		m:    opts.metrics(),
		now:  opts.timeNow(),
		base: opts.newContext(),
	}
}

// Registry returns the subscription registry used by s.
func (s *Server) Registry() *Registry { return s.reg }

// Start enables processing of frames from ch. Start does not block while
// the server runs. This function will panic if the server is already
// running. It returns s to allow chaining with construction.
func (s *Server) Start(ch channel.Channel) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		panic("server is already running")
	}
	s.ch = ch
	s.err = nil

	ctx, cancel := context.WithCancel(s.base())
	ctx = context.WithValue(ctx, serverKey{}, s)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.read(ctx, ch)
	}()
	s.log.Printf("Server started")
	return s
}

// read receives frames from ch and dispatches them until the channel
// fails or the server is stopped.
func (s *Server) read(ctx context.Context, ch channel.Channel) {
	for {
		bits, err := ch.Recv()
		if err != nil {
			if err != io.EOF && !channel.IsErrClosing(err) {
				s.log.Printf("Reading from channel failed: %v", err)
			}
			s.mu.Lock()
			s.stop(err)
			s.mu.Unlock()
			return
		}
		s.m.Count("rpc.bytesRead", int64(len(bits)))
		s.m.Count("rpc.requests", 1)
		s.dispatch(ctx, bits)
	}
}

// dispatch validates one inbound frame and routes it by action. Protocol
// violations produce an error reply, correlated to the offending request
// whenever a requestId was readable.
func (s *Server) dispatch(ctx context.Context, bits []byte) {
	var m wireMsg
	if err := m.parse(bits); err != nil {
		s.replyError(m.id, err)
		return
	}
	if m.id == nil {
		s.replyError(nil, Errorf(400, ReasonMissingArgument, `request missing required "requestId" field`))
		return
	}
	switch m.action {
	case actionCall:
		s.handleCall(ctx, &m)
	case actionSubscribe:
		s.handleSubscribe(&m)
	case "":
		s.replyError(m.id, Errorf(400, ReasonMissingArgument, `request missing required "action" field`))
	default:
		s.replyError(m.id, Errorf(503, ReasonUnknownAction, "unknown action %q", m.action))
	}
}

// handleCall validates and executes one function call. The argument list
// is fully decoded before the handler is looked up, so an invalid call is
// never partially executed.
func (s *Server) handleCall(ctx context.Context, m *wireMsg) {
	if m.function == "" {
		s.replyError(m.id, Errorf(400, ReasonMissingArgument, `call missing required "function" field`))
		return
	}
	if m.args == nil {
		s.replyError(m.id, Errorf(400, ReasonMissingArgument, `call missing required "arguments" field`))
		return
	}
	var args []Argument
	if err := json.Unmarshal(m.args, &args); err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = Errorf(400, ReasonInvalidArgument, "invalid arguments: %v", err)
		}
		s.replyError(m.id, e)
		return
	}
	call, err := NewCall(m.function, args)
	if err != nil {
		s.replyError(m.id, ErrorOf(err))
		return
	}
	s.log.Printf("Handling call %q (%d arguments)", call.Name(), len(args))

	h := s.mux.Assign(ctx, call.Name())
	if h == nil {
		s.replyError(m.id, Errorf(404, ReasonUnknownFunction, "unknown function %q", call.Name()))
		return
	}
	ctx = context.WithValue(ctx, inboundCallKey{}, call)
	reply, err := h(ctx, call)
	if err != nil {
		s.replyError(m.id, ErrorOf(err))
		return
	}
	s.transmit(replyFrame{
		Action:    actionReply,
		RequestID: m.id,
		Timestamp: s.now(),
		Reply:     reply,
	})
}

// handleSubscribe records one subscription request in the registry and
// acknowledges it with the assigned id.
func (s *Server) handleSubscribe(m *wireMsg) {
	if m.path == "" {
		s.m.Count("rpc.errors", 1)
		s.transmit(ackFrame{
			Action:    actionSubscribe,
			RequestID: m.id,
			Timestamp: s.now(),
			Error:     Errorf(400, ReasonMissingArgument, `subscribe missing required "path" field`),
		})
		return
	}
	id := s.reg.subscribe(s, m.path)
	s.log.Printf("Subscribed to %s with id %d", m.path, id)
	s.transmit(ackFrame{
		Action:         actionSubscribe,
		RequestID:      m.id,
		Timestamp:      s.now(),
		SubscriptionID: id,
	})
}

// replyError transmits an error reply for the request with the given raw
// id token, or an uncorrelated error reply if id == nil.
func (s *Server) replyError(id json.RawMessage, e *Error) {
	s.m.Count("rpc.errors", 1)
	if id == nil {
		s.log.Printf("Error reply (no request id): %v", e)
	} else {
		s.log.Printf("Error reply for request %s: %v", string(id), e)
	}
	s.transmit(replyFrame{
		Action:    actionReply,
		RequestID: id,
		Timestamp: s.now(),
		Error:     e,
	})
}

// transmit sends one frame to the client, logging delivery failures.
func (s *Server) transmit(v any) {
	if err := s.send(v); err != nil {
		s.log.Printf("Sending frame failed: %v", err)
	}
}

// send marshals v and writes it to the channel, serialized with all other
// writers. It reports ErrConnClosed after the connection has closed.
func (s *Server) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ErrConnClosed
	}
	n, err := sendFrame(s.ch, v)
	s.m.Count("rpc.bytesWritten", int64(n))
	return err
}

// notify implements the registry's connection interface, delivering one
// published signal value to the client.
func (s *Server) notify(subID uint64, ts int64, value json.RawMessage) error {
	err := s.send(noteFrame{
		Action:         actionSubscription,
		SubscriptionID: subID,
		Timestamp:      ts,
		Value:          value,
	})
	if err == nil {
		s.m.Count("rpc.signals", 1)
	}
	return err
}

var _ conn = (*Server)(nil)

// stop closes the channel, cancels handler contexts, withdraws the
// connection's subscriptions, and records err as the result of the
// session. The caller must hold s.mu.
func (s *Server) stop(err error) {
	if s.ch == nil {
		return
	}
	s.ch.Close()
	s.cancel()
	s.reg.unregister(s)
	s.err = err
	s.ch = nil
}

// Stop shuts down the connection. It is safe to call Stop multiple times
// or from concurrent goroutines; only the first call takes effect.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop(ErrServerStopped)
}

// Wait blocks until the connection terminates and returns the resulting
// error. It returns nil if the connection ended cleanly: by a call to
// Stop, by a clean close from the client, or by closure of the underlying
// channel.
func (s *Server) Wait() error {
	s.wg.Wait()
	if s.err == io.EOF || channel.IsErrClosing(s.err) || s.err == ErrServerStopped {
		return nil
	}
	return s.err
}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/visslink/visrpc/channel"
)

// A Client is one client-side protocol session. The client issues calls
// and subscriptions on a channel.Channel provided by the caller, and
// receives replies, acknowledgments, and signal notifications from the
// server on the same channel.
type Client struct {
	done chan struct{} // closed when the reader is done at shutdown time

	log      Logger             // write debug logs here
	onSignal func(Notification) // deliver signal notifications here

	mu     sync.Mutex // protects the fields below
	ch     channel.Channel
	err    error               // error from a previous operation
	calls  map[string]*pending // calls awaiting replies, by canonical request id
	subs   map[string]*pending // subscriptions awaiting acknowledgment, by canonical request id
	paths  map[uint64]string   // active subscriptions: assigned id to signal path
	nextID int64               // the most recently issued request id
}

// NewClient returns a new client that communicates with the server via ch.
func NewClient(ch channel.Channel, opts *ClientOptions) *Client {
	c := &Client{
		done:     make(chan struct{}),
		log:      opts.logFunc(),
		onSignal: opts.onSignal(),

		// Lock-protected fields
		ch:    ch,
		calls: make(map[string]*pending),
		subs:  make(map[string]*pending),
		paths: make(map[uint64]string),
	}

	// The main client loop reads frames from the server and routes them:
	// replies and acknowledgments are delivered to the operations pending
	// on their ids, notifications to the OnSignal callback. Outbound
	// requests do not queue; they are sent synchronously by issue.
	go func() {
		defer close(c.done)
		for c.accept(ch) == nil {
		}
	}()
	return c
}

// A pending is one operation awaiting the server's answer.
type pending struct {
	done   chan struct{} // closed when the answer is recorded
	msg    *wireMsg      // the server's answer; nil on local failure
	err    error         // the local failure, if any
	path   string        // for subscriptions, the signal path requested
	issued time.Time     // when the operation was transmitted
	cancel context.CancelFunc
}

func (p *pending) complete(m *wireMsg) { p.msg = m; close(p.done) }

func (p *pending) fail(err error) { p.err = err; close(p.done) }

// wait blocks until p completes, then releases its context resources.
func (p *pending) wait() {
	<-p.done
	p.cancel()
}

// result returns the server's answer, mapping a wire error object to an
// error of concrete type *Error.
func (p *pending) result() (*wireMsg, error) {
	if p.err != nil {
		return nil, p.err
	} else if p.msg.werr != nil {
		return nil, p.msg.werr
	}
	return p.msg, nil
}

// accept receives the next frame from the server and delivers it. Frames
// that do not parse cannot be correlated; they are logged and discarded.
// The caller must not hold c.mu.
func (c *Client) accept(ch receiver) error {
	bits, err := ch.Recv()
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch != nil && err != io.EOF && !channel.IsErrClosing(err) {
			c.log.Printf("Reading from channel failed: %v", err)
		}
		c.stop(err)
		return err
	}
	var m wireMsg
	if perr := m.parse(bits); perr != nil {
		c.log.Printf("Discarding invalid frame: %v", perr)
		return nil
	}
	if m.action == actionSubscription {
		c.deliverSignal(&m)
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliver(&m)
	return nil
}

// deliver routes one reply or acknowledgment to the operation pending on
// its request id. Frames with unknown ids or actions are logged and
// discarded. The caller must hold c.mu. As we are under the lock, we do
// not wait for the pending receiver to pick up the answer; completing the
// record is enough to wake it.
func (c *Client) deliver(m *wireMsg) {
	if m.id == nil {
		c.log.Printf("Discarding %q frame without request id", m.action)
		return
	}
	id := canonID(m.id)
	switch m.action {
	case actionReply:
		if p := c.calls[id]; p == nil {
			c.log.Printf("Discarding reply for unknown id %q", id)
		} else {
			delete(c.calls, id)
			p.complete(m)
			c.log.Printf("Completed call %q in %v", id, time.Since(p.issued))
		}

	case actionSubscribe:
		// An inbound "subscribe" is the acknowledgment of one of ours.
		if p := c.subs[id]; p == nil {
			c.log.Printf("Discarding acknowledgment for unknown id %q", id)
		} else {
			delete(c.subs, id)
			if m.werr == nil && m.hasSubID {
				// Record the assignment before the waiter wakes, so a
				// notification arriving immediately after the
				// acknowledgment already resolves to its path.
				c.paths[m.subID] = p.path
			}
			p.complete(m)
			c.log.Printf("Completed subscription %q in %v", id, time.Since(p.issued))
		}

	default:
		c.log.Printf("Discarding frame with unknown action %q", m.action)
	}
}

// deliverSignal resolves one notification against the subscription table
// and hands it to the OnSignal callback. The callback runs on the receive
// goroutine. The caller must not hold c.mu.
func (c *Client) deliverSignal(m *wireMsg) {
	if !m.hasSubID {
		c.log.Printf("Discarding notification without subscription id")
		return
	}
	c.mu.Lock()
	path, ok := c.paths[m.subID]
	c.mu.Unlock()
	if !ok {
		c.log.Printf("Discarding notification for unknown subscription %d", m.subID)
		return
	}
	if c.onSignal == nil {
		return
	}
	value := m.value
	if value == nil {
		value = json.RawMessage("null")
	}
	c.onSignal(Notification{
		SubscriptionID: m.subID,
		Path:           path,
		Timestamp:      m.ts,
		Value:          value,
	})
}

// issue allocates a fresh request id, transmits the frame produced by mk,
// and registers the operation in pmap. Registration happens after
// transmission, so a send failure does not leave a dead pending record.
// It blocks until the frame has been sent.
func (c *Client) issue(ctx context.Context, pmap map[string]*pending, path string, mk func(id json.RawMessage) any) (*pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	} else if c.ch == nil {
		return nil, ErrClientStopped
	}
	c.nextID++
	id := json.RawMessage(strconv.Quote(strconv.FormatInt(c.nextID, 10)))
	key := canonID(id)
	if c.calls[key] != nil || c.subs[key] != nil {
		return nil, fmt.Errorf("duplicate request id %q", key)
	}
	if _, err := sendFrame(c.ch, mk(id)); err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &pending{
		done:   make(chan struct{}),
		path:   path,
		issued: time.Now(),
		cancel: cancel,
	}
	pmap[key] = p
	go c.waitComplete(pctx, pmap, key, p)
	return p, nil
}

// waitComplete waits for the context governing p to end. If the operation
// is still pending at that point, it is abandoned and failed with the
// context's error; otherwise the cancellation arrived too late to matter.
func (c *Client) waitComplete(pctx context.Context, pmap map[string]*pending, id string, p *pending) {
	<-pctx.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if pmap[id] != p {
		return
	}
	c.log.Printf("Context ended for id %q, err=%v", id, pctx.Err())
	delete(pmap, id)
	p.fail(pctx.Err())
}

// Call invokes the named function on the server with the given arguments,
// and blocks until it completes or ctx ends. On success it returns the
// reply arguments, which may be empty. Errors from the server have
// concrete type *Error.
func (c *Client) Call(ctx context.Context, function string, args []Argument) ([]Argument, error) {
	if args == nil {
		args = []Argument{}
	}
	p, err := c.issue(ctx, c.calls, "", func(id json.RawMessage) any {
		return callFrame{Action: actionCall, RequestID: id, Function: function, Arguments: args}
	})
	if err != nil {
		return nil, err
	}
	p.wait()
	m, err := p.result()
	if err != nil {
		return nil, err
	}
	if m.reply == nil {
		return nil, nil
	}
	var reply []Argument
	if err := json.Unmarshal(m.reply, &reply); err != nil {
		return nil, fmt.Errorf("invalid reply: %w", err)
	}
	return reply, nil
}

// Subscribe registers for value-change notifications on the named signal
// path, and blocks until the server acknowledges the subscription or ctx
// ends. It returns the subscription id assigned by the server.
// Notifications for the path are delivered to the OnSignal callback given
// in the client options.
func (c *Client) Subscribe(ctx context.Context, path string) (uint64, error) {
	p, err := c.issue(ctx, c.subs, path, func(id json.RawMessage) any {
		return subscribeFrame{Action: actionSubscribe, RequestID: id, Path: path}
	})
	if err != nil {
		return 0, err
	}
	p.wait()
	m, err := p.result()
	if err != nil {
		return 0, err
	}
	if !m.hasSubID {
		return 0, Errorf(400, ReasonMissingArgument, "acknowledgment missing subscriptionId")
	}
	return m.subID, nil
}

// Close shuts down the client, abandoning any pending operations.
func (c *Client) Close() error {
	c.mu.Lock()
	c.stop(ErrClientStopped)
	c.mu.Unlock()
	<-c.done
	return c.exitErr()
}

// Wait blocks until the client's connection has terminated, whether by
// Close or by failure of the channel, and reports its final state. Unlike
// Close it does not itself shut the client down.
func (c *Client) Wait() error {
	<-c.done
	return c.exitErr()
}

// exitErr reports the final state of the client, filtering the errors
// that accompany an orderly shutdown.
func (c *Client) exitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == io.EOF || channel.IsErrClosing(c.err) || c.err == ErrClientStopped {
		return nil
	}
	return c.err
}

// stop closes down the reader for c and records err as its final state.
// Pending operations are failed with err. The caller must hold c.mu. If
// multiple callers invoke stop, only the first will record its error.
func (c *Client) stop(err error) {
	if c.ch == nil {
		return
	}
	c.ch.Close()
	for id, p := range c.calls {
		delete(c.calls, id)
		p.fail(err)
		p.cancel()
	}
	for id, p := range c.subs {
		delete(c.subs, id)
		p.fail(err)
		p.cancel()
	}
	c.err = err
	c.ch = nil
}

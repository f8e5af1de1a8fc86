// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package server provides support routines for running visrpc servers.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visslink/visrpc"
	"github.com/visslink/visrpc/channel"
)

// An Accepter obtains client channels from a transport, for example a
// network listener.
type Accepter interface {
	// Accept accepts the next available channel. An implementation that
	// supports it should stop blocking and report an error when ctx ends.
	Accept(ctx context.Context) (channel.Channel, error)
}

// NetAccepter adapts a net.Listener to the Accepter interface, so that each
// accepted connection is framed with the given framing discipline. The
// adapter does not obey the context passed to Accept; to unblock a pending
// accept, close the listener.
func NetAccepter(lst net.Listener, framing channel.Framing) Accepter {
	return netAccepter{Listener: lst, framing: framing}
}

type netAccepter struct {
	net.Listener
	framing channel.Framing
}

func (n netAccepter) Accept(_ context.Context) (channel.Channel, error) {
	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return n.framing(conn, conn), nil
}

// Loop obtains connections from lst and starts a server for each using the
// given assigner and options, running in a new goroutine. Unless the options
// provide one, all the servers share a single subscription registry, so a
// value published on any connection reaches the subscribers of every
// connection.
//
// If lst reports an error, the loop stops, and Loop returns once all the
// servers currently active have finished. Loop returns nil if lst failed
// because ctx ended or because the underlying listener was closed; any other
// accept error is returned to the caller.
func Loop(ctx context.Context, lst Accepter, mux visrpc.Assigner, opts *LoopOptions) error {
	log := opts.logger()
	sopts := opts.serverOptions()
	if sopts.Registry == nil {
		sopts.Registry = visrpc.NewRegistry(nil)
	}

	var wg sync.WaitGroup
	for {
		ch, err := lst.Accept(ctx)
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || channel.IsErrClosing(err) {
				return nil
			}
			log.Printf("Error accepting new connection: %v", err)
			return errors.Wrap(err, "accept")
		}

		conn := uuid.NewString()
		log.Printf("Accepted new connection %s", conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := visrpc.NewServer(mux, sopts).Start(ch).Wait(); err != nil {
				log.Printf("Connection %s exited: %v", conn, err)
			} else {
				log.Printf("Connection %s closed", conn)
			}
		}()
	}
}

// LoopOptions control the behavior of the Loop function. A nil *LoopOptions
// is valid and provides reasonable defaults.
type LoopOptions struct {
	// If non-nil, these options are used when constructing the server for
	// each accepted channel. If the options do not name a registry, Loop
	// installs one registry shared by all its connections.
	ServerOptions *visrpc.ServerOptions

	// If non-nil, the loop logs connection events here.
	Logger visrpc.Logger
}

func (o *LoopOptions) logger() visrpc.Logger {
	if o == nil || o.Logger == nil {
		return func(string) {}
	}
	return o.Logger
}

// serverOptions returns a copy of the loop's server options, so that the
// loop can inject a shared registry without modifying the caller's value.
func (o *LoopOptions) serverOptions() *visrpc.ServerOptions {
	if o == nil || o.ServerOptions == nil {
		return new(visrpc.ServerOptions)
	}
	opts := *o.ServerOptions
	return &opts
}

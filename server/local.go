// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package server

import (
	"github.com/visslink/visrpc"
	"github.com/visslink/visrpc/channel"
)

// Local is a client and server connected by an in-memory direct channel.
type Local struct {
	Client *visrpc.Client
	Server *visrpc.Server
}

// NewLocal constructs a *visrpc.Server and a *visrpc.Client connected to it
// via an in-memory channel, using the specified assigner and options. If
// opts == nil, it behaves as if the client and server options are also nil.
func NewLocal(mux visrpc.Assigner, opts *LocalOptions) *Local {
	if opts == nil {
		opts = new(LocalOptions)
	}
	cch, sch := channel.Direct()
	return &Local{
		Server: visrpc.NewServer(mux, opts.Server).Start(sch),
		Client: visrpc.NewClient(cch, opts.Client),
	}
}

// LocalOptions control the behaviour of the server and client constructed by
// the NewLocal function.
type LocalOptions struct {
	Client *visrpc.ClientOptions
	Server *visrpc.ServerOptions
}

// Close shuts down the client and blocks until the server has exited,
// reporting the value of its Wait method.
func (l *Local) Close() error {
	l.Client.Close()
	return l.Server.Wait()
}

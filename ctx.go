// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"context"
)

// InboundCall returns the inbound call associated with the context passed
// to a Handler, or nil if ctx does not carry an inbound call. A *Server
// populates this value for handler contexts.
//
// This is mainly useful to wrapped functions that do not receive the call
// as an explicit parameter; for direct implementations of the Handler type
// the value returned by InboundCall is the same value as was passed
// explicitly.
func InboundCall(ctx context.Context) *Call {
	if v := ctx.Value(inboundCallKey{}); v != nil {
		return v.(*Call)
	}
	return nil
}

type inboundCallKey struct{}

// ServerFromContext returns the server associated with the context passed
// to a Handler by a *Server. It will panic for a non-handler context.
//
// This is useful for handlers that publish signal values: the registry of
// the server that received the call is reachable via its Registry method.
//
// It is safe to retain the server and invoke its methods beyond the
// lifetime of the context from which it was extracted; however, a handler
// must not block on the Wait method of the server, as the server will
// deadlock waiting for the handler to return.
func ServerFromContext(ctx context.Context) *Server { return ctx.Value(serverKey{}).(*Server) }

type serverKey struct{}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"context"
	"fmt"
	"log"

	"github.com/visslink/visrpc/metrics"
)

// ServerOptions control the behaviour of a server created by NewServer.
// A nil *ServerOptions provides sensible defaults.
type ServerOptions struct {
	// If not nil, the server will use this value to log status text.
	Logger Logger

	// If not nil, subscribe requests are recorded in this registry, and
	// values published through it are delivered to the connection. By
	// default each server uses a private registry, so subscriptions do not
	// outlive the connection and see only values published to that registry.
	Registry *Registry

	// If not nil, the server will accumulate counters of request, error,
	// and byte traffic in this collector.
	Metrics *metrics.M

	// If not nil, this function is called to obtain timestamps for outbound
	// frames, in milliseconds since the Unix epoch. By default the server
	// uses the wall clock.
	TimeNow func() int64

	// If not nil, this function is called to create the base context for
	// handlers started by the server. By default the background context is
	// used. Handler contexts end when the server stops.
	NewContext func() context.Context
}

func (o *ServerOptions) logFunc() Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

func (o *ServerOptions) registry() *Registry {
	if o == nil {
		return nil
	}
	return o.Registry
}

func (o *ServerOptions) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *ServerOptions) timeNow() func() int64 {
	if o == nil || o.TimeNow == nil {
		return tsNow
	}
	return o.TimeNow
}

func (o *ServerOptions) newContext() func() context.Context {
	if o == nil || o.NewContext == nil {
		return context.Background
	}
	return o.NewContext
}

// ClientOptions control the behaviour of a client created by NewClient.
// A nil *ClientOptions provides sensible defaults.
type ClientOptions struct {
	// If not nil, the client will use this value to log status text.
	Logger Logger

	// If not nil, this function is called for each signal notification the
	// server pushes for an active subscription. The callback runs on the
	// client's receive goroutine: it must not block, and it must not call
	// back into the client directly. If nil, notifications are discarded.
	OnSignal func(Notification)
}

func (o *ClientOptions) logFunc() Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

func (o *ClientOptions) onSignal() func(Notification) {
	if o == nil {
		return nil
	}
	return o.OnSignal
}

// RegistryOptions control the behaviour of a registry created by
// NewRegistry. A nil *RegistryOptions provides sensible defaults.
type RegistryOptions struct {
	// If not nil, the registry will use this value to log status text.
	Logger Logger

	// If not nil, the registry will accumulate publication and subscriber
	// counters in this collector.
	Metrics *metrics.M
}

func (o *RegistryOptions) logFunc() Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

func (o *RegistryOptions) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// A Logger records text for debugging. A nil Logger discards text.
type Logger func(text string)

// Printf writes a formatted message to the logger. If log == nil, the
// message is discarded.
func (log Logger) Printf(msg string, args ...any) {
	if log != nil {
		log(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the log
// package's default logger is used.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

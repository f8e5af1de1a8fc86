// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"context"
	"encoding/json"
)

// An Assigner maps function names to Handler functions.
type Assigner interface {
	// Assign returns the handler for the named function, or nil if the
	// function is not available.
	Assign(ctx context.Context, name string) Handler
}

// A Namer is an optional extension of the Assigner interface that reports
// the names of all the functions the assigner knows.
type Namer interface {
	// Names returns the function names known to the assigner, sorted.
	Names() []string
}

// A Handler executes one function call and returns its results in wire
// form. An error of concrete type *Error is transmitted to the caller
// verbatim; any other error is reported as an internal server error.
type Handler func(ctx context.Context, call *Call) ([]Argument, error)

// A Call carries the validated contents of one call request to a handler.
type Call struct {
	name string
	args []Argument
	vals []any
}

// NewCall validates and decodes args into a Call on the named function.
// If any argument is invalid it reports an error of concrete type *Error,
// and the call must not be executed.
func NewCall(name string, args []Argument) (*Call, error) {
	vals := make([]any, len(args))
	for i, arg := range args {
		v, err := arg.Decode()
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return &Call{name: name, args: args, vals: vals}, nil
}

// Name reports the name of the function being called.
func (c *Call) Name() string { return c.name }

// Arguments returns the wire-form arguments of the call.
func (c *Call) Arguments() []Argument { return c.args }

// Values returns the decoded native argument values of the call, one
// entry per argument. Scalars are unwrapped; array arguments appear as
// slices of the native type.
func (c *Call) Values() []any { return c.vals }

// A Notification reports one published signal value to a subscriber.
type Notification struct {
	SubscriptionID uint64          // the id assigned when the subscription was made
	Path           string          // the signal path subscribed to
	Timestamp      int64           // publication time, milliseconds since the Unix epoch
	Value          json.RawMessage // the published value
}

// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"errors"
	"fmt"
)

// Error is the concrete type of errors reported by the remote peer. It
// corresponds to the wire error object carried in the "error" field of a
// reply or subscribe acknowledgment.
type Error struct {
	Number  int32  `json:"number"`            // HTTP-style status number
	Reason  string `json:"reason"`            // short machine-readable reason code
	Message string `json:"message,omitempty"` // human-readable description
}

// Error renders e to a human-readable string for the error interface.
func (e *Error) Error() string { return fmt.Sprintf("[%d/%s] %s", e.Number, e.Reason, e.Message) }

// Errorf returns an error value of concrete type *Error having the specified
// number, reason code, and formatted message string.
func Errorf(number int32, reason, msg string, args ...any) *Error {
	return &Error{
		Number:  number,
		Reason:  reason,
		Message: fmt.Sprintf(msg, args...),
	}
}

// ErrorOf converts err into an *Error for transmission on the wire. If err
// is already of concrete type *Error it is returned unchanged; otherwise it
// is wrapped as an internal error with number 500.
func ErrorOf(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Number: 500, Reason: ReasonInternalError, Message: err.Error()}
}

// Reason codes reported in wire error objects.
const (
	ReasonMissingArgument = "missing_argument" // a required field is absent
	ReasonUnknownAction   = "unknown_action"   // the action tag is not recognized
	ReasonUnknownType     = "unknown_type"     // an argument type tag is not recognized
	ReasonInvalidArgument = "invalid_argument" // an argument is malformed or mis-counted
	ReasonUnknownFunction = "unknown_function" // the requested function is not registered
	ReasonInternalError   = "internal_error"   // the handler failed without a protocol error
)

// ErrClientStopped is reported to pending calls and subscriptions that were
// abandoned because the client was closed.
var ErrClientStopped = errors.New("the client has been stopped")

// ErrServerStopped is returned by Server.Wait when the server was shut down
// by an explicit call to its Stop method.
var ErrServerStopped = errors.New("the server has been stopped")

// ErrConnClosed is reported when a notification cannot be delivered because
// the connection it belongs to has been closed.
var ErrConnClosed = errors.New("client connection is closed")

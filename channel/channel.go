// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package channel defines the travel of frames between the endpoints of a
// visrpc session, and provides implementations for testing and for use
// over byte streams.
package channel

import (
	"errors"
	"io"
	"net"
	"strings"
)

// A Channel represents the ability to transmit and receive discrete
// frames. A channel does not interpret the contents of a frame, but may
// add and remove framing so that frames can be embedded in byte streams.
//
// The methods of a Channel need not be safe for concurrent use, but Send
// and Recv must be safe to invoke concurrently with each other and with
// Close.
type Channel interface {
	// Send transmits one frame on the channel.
	Send([]byte) error

	// Recv returns the next available frame from the channel. If no
	// further frames are available, it returns io.EOF.
	Recv() ([]byte, error)

	// Close shuts down the channel, after which no further frames may be
	// sent or received.
	Close() error
}

// A Framing converts a reader and a writer into a Channel with a
// particular frame-encoding discipline.
type Framing func(io.Reader, io.WriteCloser) Channel

// IsErrClosing reports whether err is an error plausibly reported by a
// read from a connection that was closed locally, as distinct from one
// ended by the remote peer.
func IsErrClosing(err error) bool {
	return err != nil && (errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		strings.Contains(err.Error(), "use of closed network connection"))
}

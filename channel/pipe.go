// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package channel

import "io"

// Pipe creates a pair of connected in-memory channels that exchange frames
// over byte streams using the specified framing discipline. Closing either
// endpoint shuts down both directions, as closing a network connection
// would: the peer's pending Recv reports io.EOF and its later sends fail.
// Pipe will panic if framing == nil.
func Pipe(framing Framing) (client, server Channel) {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	client = pipe{Channel: framing(cr, cw), rd: cr}
	server = pipe{Channel: framing(sr, sw), rd: sr}
	return
}

// pipe wraps a framed channel endpoint so that Close also terminates the
// inbound stream, unblocking the peer's writer.
type pipe struct {
	Channel
	rd *io.PipeReader
}

func (p pipe) Close() error {
	p.rd.Close()
	return p.Channel.Close()
}

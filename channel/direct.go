// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"errors"
	"io"
	"sync"
)

type direct struct {
	send chan<- []byte
	recv <-chan []byte

	// Both halves of a connection share stop and done, so that closing
	// either endpoint terminates the conversation for both.
	stop *sync.Once
	done chan struct{}
}

func (d direct) Send(msg []byte) error {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case d.send <- cp:
		return nil
	case <-d.done:
		return errors.New("send on closed channel")
	}
}

func (d direct) Recv() ([]byte, error) {
	select {
	case msg := <-d.recv:
		return msg, nil
	case <-d.done:
		return nil, io.EOF
	}
}

func (d direct) Close() error {
	d.stop.Do(func() { close(d.done) })
	return nil
}

// Direct returns a pair of synchronous connected channels that pass frame
// buffers directly in memory without encoding. Sends to client will be
// received by server, and vice versa. Closing either endpoint disconnects
// both, as closing a network connection would.
func Direct() (client, server Channel) {
	c2s := make(chan []byte)
	s2c := make(chan []byte)
	stop := new(sync.Once)
	done := make(chan struct{})
	client = direct{send: c2s, recv: s2c, stop: stop, done: done}
	server = direct{send: s2c, recv: c2s, stop: stop, done: done}
	return
}

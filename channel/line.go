// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"bufio"
	"bytes"
	"io"
)

// Line is a Framing that transmits and receives frames on r and wc with
// line framing: each frame is terminated by a Unicode LF (10). Outbound
// frames must not themselves contain newlines; any that occur are
// stripped. JSON encodings never contain raw newlines, so protocol frames
// travel unmodified.
func Line(r io.Reader, wc io.WriteCloser) Channel {
	return line{wc: wc, buf: bufio.NewReader(r)}
}

// line implements Channel. Frames are terminated by newlines.
type line struct {
	wc  io.WriteCloser
	buf *bufio.Reader
}

// Send implements part of the Channel interface.
func (c line) Send(msg []byte) error {
	out := make([]byte, 0, len(msg)+1)
	for _, b := range msg {
		if b != '\n' {
			out = append(out, b)
		}
	}
	out = append(out, '\n')
	_, err := c.wc.Write(out)
	return err
}

// Recv implements part of the Channel interface. Empty lines are skipped.
func (c line) Recv() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := c.buf.ReadSlice('\n')
		buf.Write(chunk)
		if err == bufio.ErrBufferFull {
			continue // incomplete line
		} else if err == nil && buf.Len() <= 1 {
			buf.Reset()
			continue // empty line
		}
		line := buf.Bytes()
		if n := len(line) - 1; n >= 0 && line[n] == '\n' {
			return line[:n], err
		}
		return line, err
	}
}

// Close implements part of the Channel interface.
func (c line) Close() error { return c.wc.Close() }

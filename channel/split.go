package channel

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Split constructs a Framing that transmits and receives messages delimited
// by a single separator byte, generalizing Line to an arbitrary delimiter
// (for example '\x1e', the ASCII record separator). Each message is
// terminated by sep, and outbound records may not contain sep.
func Split(sep byte) Framing {
	return func(r io.Reader, wc io.WriteCloser) Channel {
		return split{sep: sep, wc: wc, buf: bufio.NewReader(r)}
	}
}

type split struct {
	sep byte
	wc  io.WriteCloser
	buf *bufio.Reader
}

// Send implements part of the Channel interface. It reports an error if msg
// contains the separator byte.
func (c split) Send(msg []byte) error {
	if bytes.IndexByte(msg, c.sep) >= 0 {
		return fmt.Errorf("message contains separator %q", c.sep)
	}
	out := make([]byte, len(msg)+1)
	copy(out, msg)
	out[len(msg)] = c.sep
	_, err := c.wc.Write(out)
	return err
}

// Recv implements part of the Channel interface.
func (c split) Recv() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := c.buf.ReadSlice(c.sep)
		buf.Write(chunk)
		if err == bufio.ErrBufferFull {
			continue // incomplete record
		}
		rec := buf.Bytes()
		if n := len(rec) - 1; n >= 0 {
			return rec[:n], err
		}
		return nil, err
	}
}

// Close implements part of the Channel interface.
func (c split) Close() error { return c.wc.Close() }

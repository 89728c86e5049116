package channel

import (
	"encoding/json"
	"io"
)

// RawJSON constructs a Channel that transmits and receives messages on r and
// wc with no explicit framing beyond the self-delimiting structure of a JSON
// value.
var RawJSON Framing = func(r io.Reader, wc io.WriteCloser) Channel {
	return Raw{wc: wc, dec: json.NewDecoder(r)}
}

// NewRaw constructs a Channel that transmits and receives messages on rwc
// with no explicit framing, for callers with a single combined
// read/write/close stream rather than separate reader and writer values.
func NewRaw(rwc io.ReadWriteCloser) Channel { return Raw{wc: rwc, dec: json.NewDecoder(rwc)} }

// Raw implements Channel. Messages sent on a Raw channel are not explicitly
// framed, and messages received are framed by JSON syntax.
type Raw struct {
	wc  io.WriteCloser
	dec *json.Decoder
}

// Send implements part of Channel.
func (r Raw) Send(msg []byte) error { _, err := r.wc.Write(msg); return err }

// Recv implements part of Channel.
func (r Raw) Recv() ([]byte, error) {
	var msg json.RawMessage
	err := r.dec.Decode(&msg)
	return msg, err
}

// Close implements part of Channel.
func (r Raw) Close() error { return r.wc.Close() }

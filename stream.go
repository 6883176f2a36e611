package websocket

import (
	"io"
	"net"
	"time"
)

// Stream is the abstract duplex byte connection a Conn is built on
// (spec.md §1): plain net.Conn satisfies it directly, and so does a TLS
// connection or anything else with deadline support. The HTTP/1.1 upgrade
// handshake and TLS termination happen before a Stream reaches the core —
// see the wsupgrade subpackage.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// compile-time assertion that the common case needs no adapter.
var _ Stream = (net.Conn)(nil)

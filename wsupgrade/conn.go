package wsupgrade

import "net"

// prefixedConn replays a buffered prefix (bytes the hijacked bufio.Reader
// had already read past the handshake request or 101 response) before falling through to the
// underlying net.Conn for the rest of the stream.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

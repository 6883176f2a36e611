package websocket

// ReadHalf and WriteHalf split a Conn into its two independent directions
// (spec.md §9): handing each to a different goroutine makes the "one
// reader, many writers" concurrency shape explicit in the type system
// instead of relying on a doc comment, while both halves still share the
// same underlying Conn (and its single atomic ConnState) rather than each
// owning a lock of their own.

// ReadHalf exposes only the receive side of a Conn.
type ReadHalf struct{ conn *Conn }

// Recv delegates to the underlying Conn's Recv.
func (r ReadHalf) Recv() (Message, error) { return r.conn.Recv() }

// State delegates to the underlying Conn's State.
func (r ReadHalf) State() ConnState { return r.conn.State() }

// WriteHalf exposes only the send side of a Conn.
type WriteHalf struct{ conn *Conn }

func (w WriteHalf) Send(msg Message) error          { return w.conn.Send(msg) }
func (w WriteHalf) SendNoFlush(msg Message) error   { return w.conn.SendNoFlush(msg) }
func (w WriteHalf) SendBatch(msgs []Message) error  { return w.conn.SendBatch(msgs) }
func (w WriteHalf) Flush() error                    { return w.conn.Flush() }
func (w WriteHalf) Close() error                    { return w.conn.Close() }
func (w WriteHalf) CloseWithCode(c CloseCode, reason string) error {
	return w.conn.CloseWithCode(c, reason)
}
func (w WriteHalf) State() ConnState { return w.conn.State() }

// Split returns independent read and write handles onto c. Exactly one
// goroutine should call methods on the returned ReadHalf at a time;
// WriteHalf methods may be called concurrently from any number of
// goroutines (Conn already serializes them internally).
func (c *Conn) Split() (ReadHalf, WriteHalf) {
	return ReadHalf{conn: c}, WriteHalf{conn: c}
}

package websocket

import "github.com/valyala/bytebufferpool"

// bufPool backs the connection's write buffer (the read buffer is a plain
// slice; see DESIGN.md). The
// teacher's pool.go hand-rolled four sync.Pool size tiers (256B/1K/4K/16K)
// keyed by a size-class switch; bytebufferpool gives the same amortized-
// allocation behavior with its own calibrated size classes and is already
// one of this module's domain dependencies (see DESIGN.md), so the
// connection draws straight from it instead of reimplementing the tiers.
var bufPool bytebufferpool.Pool

func getBuffer() *bytebufferpool.ByteBuffer { return bufPool.Get() }

// putBuffer resets b before returning it to the pool, so the next
// getBuffer caller starts from an empty buffer and never sees the previous
// holder's bytes.
func putBuffer(b *bytebufferpool.ByteBuffer) {
	b.Reset()
	bufPool.Put(b)
}

package websocket

import "testing"

func TestBufferPoolRoundTrip(t *testing.T) {
	b := getBuffer()
	b.WriteString("hello")
	if b.String() != "hello" {
		t.Fatalf("got %q, want %q", b.String(), "hello")
	}
	putBuffer(b)

	b2 := getBuffer()
	defer putBuffer(b2)
	if b2.Len() != 0 {
		t.Fatalf("fresh buffer from pool has len %d, want 0", b2.Len())
	}
}

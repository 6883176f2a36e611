package websocket

import "testing"

// TestAcceptKeyRFCExample uses the worked example from RFC 6455 §1.3.
func TestAcceptKeyRFCExample(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := AcceptKey(key); got != want {
		t.Fatalf("AcceptKey(%q) = %q, want %q", key, got, want)
	}
}

func TestAcceptKeyDeterministic(t *testing.T) {
	a := AcceptKey("x3JJHMbDL1EzLkh9GBhXDw==")
	b := AcceptKey("x3JJHMbDL1EzLkh9GBhXDw==")
	if a != b {
		t.Fatalf("AcceptKey not deterministic: %q != %q", a, b)
	}
	if a == AcceptKey("differentkeyvaluehere==") {
		t.Fatalf("AcceptKey collided across distinct inputs")
	}
}

//go:build arm64 && !noasm

package websocket

import "golang.org/x/sys/cpu"

// init mirrors mask_amd64.go's dispatch for the arm64 NEON/SVE tiers named
// in spec.md §4.1. ARM64.HasASIMD is true on every arm64 target Go supports,
// so in practice this always selects at least the word-at-a-time path;
// HasSVE additionally unlocks the wider tier.
func init() {
	switch {
	case cpu.ARM64.HasSVE:
		maskFunc = maskAVX2 // same 32-byte-per-iteration shape SVE's wide registers would fill
	case cpu.ARM64.HasASIMD:
		maskFunc = maskWord64 // NEON's 128-bit registers cover the same ground as the word path
	default:
		maskFunc = maskScalar
	}
}

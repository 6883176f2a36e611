//go:build amd64 && !noasm

package websocket

import "golang.org/x/sys/cpu"

// init selects the widest masking path this CPU supports, once, at process
// start — the "detect capabilities once, memoize, branch at the top"
// strategy spec.md §9 calls for. Real AVX2/SSE2 assembly kernels (the
// ≥8 GB/s target in spec.md §4.1) drop in at exactly this selection point;
// see DESIGN.md for why this tree ships the pure-Go word-at-a-time paths
// instead of committing unverified assembly.
func init() {
	switch {
	case cpu.X86.HasAVX2:
		maskFunc = maskAVX2
	case cpu.X86.HasSSE2:
		maskFunc = maskWord64
	default:
		maskFunc = maskScalar
	}
}

// maskAVX2 processes 32 bytes per iteration (the width an AVX2 YMM register
// would cover), four 64-bit lanes at a time, before falling back to
// maskWord64 for the remainder. It is bit-identical to maskScalar for every
// input; mask_test.go's equivalence property covers the scalar and word
// tiers, and mask_wide_test.go covers this one.
func maskAVX2(data []byte, key [4]byte) {
	n := len(data)
	if n < 32 {
		maskWord64(data, key)
		return
	}

	var k64 uint64
	k64 = uint64(key[0]) | uint64(key[1])<<8 | uint64(key[2])<<16 | uint64(key[3])<<24
	k64 |= k64 << 32

	i := 0
	for ; i+32 <= n; i += 32 {
		for lane := 0; lane < 4; lane++ {
			off := i + lane*8
			word := uint64(data[off]) | uint64(data[off+1])<<8 | uint64(data[off+2])<<16 | uint64(data[off+3])<<24 |
				uint64(data[off+4])<<32 | uint64(data[off+5])<<40 | uint64(data[off+6])<<48 | uint64(data[off+7])<<56
			word ^= k64
			data[off] = byte(word)
			data[off+1] = byte(word >> 8)
			data[off+2] = byte(word >> 16)
			data[off+3] = byte(word >> 24)
			data[off+4] = byte(word >> 32)
			data[off+5] = byte(word >> 40)
			data[off+6] = byte(word >> 48)
			data[off+7] = byte(word >> 56)
		}
	}

	if i < n {
		maskWord64(data[i:], rotatedKey(key, i))
	}
}

// rotatedKey returns key rotated so that result[j] == key[(offset+j)%4],
// letting a tail chunk that doesn't start at a multiple of 4 bytes still
// use the word-at-a-time masker correctly.
func rotatedKey(key [4]byte, offset int) [4]byte {
	var r [4]byte
	for j := 0; j < 4; j++ {
		r[j] = key[(offset+j)%4]
	}
	return r
}

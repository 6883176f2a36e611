//go:build amd64 || arm64

package websocket

import (
	"bytes"
	"math/rand"
	"testing"
)

// TestMaskWideTierEquivalence covers the 32-byte-per-iteration tier declared
// in mask_amd64.go / used by mask_arm64.go's SVE dispatch, which only builds
// on architectures that define maskAVX2.
func TestMaskWideTierEquivalence(t *testing.T) {
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	sizes := []int{0, 1, 3, 4, 7, 8, 12, 31, 32, 35, 63, 64, 100, 1000, 8191}
	for _, n := range sizes {
		want := make([]byte, n)
		rand.New(rand.NewSource(int64(n) + 1)).Read(want)
		reference := append([]byte(nil), want...)
		maskScalar(reference, key)

		got := append([]byte(nil), want...)
		maskAVX2(got, key)
		if !bytes.Equal(got, reference) {
			t.Fatalf("maskAVX2 disagrees with scalar reference at size %d", n)
		}
	}
}

func TestRotatedKey(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	for offset := 0; offset < 8; offset++ {
		r := rotatedKey(key, offset)
		for j := 0; j < 4; j++ {
			want := key[(offset+j)%4]
			if r[j] != want {
				t.Errorf("offset %d, j %d: got %d want %d", offset, j, r[j], want)
			}
		}
	}
}

package websocket

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestMaskInvolution(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	sizes := []int{0, 1, 2, 3, 4, 5, 7, 8, 9, 15, 16, 17, 31, 32, 33, 63, 64, 65, 4096, 65537}

	for _, n := range sizes {
		data := make([]byte, n)
		rand.New(rand.NewSource(int64(n))).Read(data)
		orig := append([]byte(nil), data...)

		applyMask(data, key)
		if n > 0 && bytes.Equal(data, orig) {
			t.Fatalf("size %d: masking did not change data (key all-zero case aside)", n)
		}
		applyMask(data, key)
		if !bytes.Equal(data, orig) {
			t.Fatalf("size %d: mask(mask(x)) != x", n)
		}
	}
}

func TestMaskTierEquivalence(t *testing.T) {
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	tiers := map[string]func([]byte, [4]byte){
		"scalar": maskScalar,
		"word64": maskWord64,
	}

	sizes := []int{0, 1, 3, 4, 7, 8, 12, 31, 32, 35, 63, 64, 100, 1000, 8191}
	for _, n := range sizes {
		want := make([]byte, n)
		rand.New(rand.NewSource(int64(n) + 1)).Read(want)
		reference := append([]byte(nil), want...)
		maskScalar(reference, key)

		for name, fn := range tiers {
			got := append([]byte(nil), want...)
			fn(got, key)
			if !bytes.Equal(got, reference) {
				t.Fatalf("tier %q disagrees with scalar reference at size %d", name, n)
			}
		}
	}
}

func TestMaskKeyCycling(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	data := make([]byte, 9)
	applyMask(data, key)
	for i, want := range key {
		if data[i] != want {
			t.Errorf("byte %d: got %#x, want %#x", i, data[i], want)
		}
	}
	if data[8] != key[0] {
		t.Errorf("byte 8 (cycle restart): got %#x, want %#x", data[8], key[0])
	}
}

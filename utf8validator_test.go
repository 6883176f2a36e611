package websocket

import "testing"

func TestValidUTF8(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want bool
	}{
		{"empty", nil, true},
		{"ascii", []byte("hello"), true},
		{"two byte", []byte("café"), true},
		{"three byte", []byte("東京"), true},
		{"four byte", []byte("\U0001F600"), true},
		{"invalid FF FE", []byte{0xFF, 0xFE}, false},
		{"truncated two byte", []byte{0xC2}, false},
		{"truncated three byte", []byte{0xE0, 0xA0}, false},
		{"overlong two byte (C0 80)", []byte{0xC0, 0x80}, false},
		{"overlong two byte (C1 BF)", []byte{0xC1, 0xBF}, false},
		{"surrogate (ED A0 80)", []byte{0xED, 0xA0, 0x80}, false},
		{"beyond U+10FFFF (F4 90 80 80)", []byte{0xF4, 0x90, 0x80, 0x80}, false},
		{"continuation without lead", []byte{0x80}, false},
		{"five byte lead (F8)", []byte{0xF8, 0x80, 0x80, 0x80, 0x80}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := validUTF8(tc.in); got != tc.want {
				t.Errorf("validUTF8(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestUTF8ValidatorSplitAcrossFragments(t *testing.T) {
	whole := []byte("hello 東京 \U0001F600 world")

	for split := 0; split <= len(whole); split++ {
		var v utf8Validator
		ok := v.feed(whole[:split]) && v.feed(whole[split:]) && v.complete()
		if !ok {
			t.Fatalf("split at %d: rejected a valid string split across fragments", split)
		}
	}
}

func TestUTF8ValidatorRejectsAcrossFragments(t *testing.T) {
	// A 3-byte sequence lead split from its continuation bytes, the first
	// of which is invalid (out of range for this lead byte).
	part1 := []byte{'a', 0xE0}
	part2 := []byte{0x7F, 0x80} // 0x7F is not a valid continuation byte

	var v utf8Validator
	if v.feed(part1) && v.feed(part2) && v.complete() {
		t.Fatal("expected rejection of invalid continuation byte arriving in a later fragment")
	}
}

func TestUTF8ValidatorIncompleteAtEnd(t *testing.T) {
	var v utf8Validator
	if !v.feed([]byte{0xE0, 0xA0}) {
		t.Fatal("feed should not reject a merely-incomplete sequence")
	}
	if v.complete() {
		t.Fatal("complete() should be false when the stream ends mid-rune")
	}
}

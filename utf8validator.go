package websocket

// utf8Validator incrementally validates a UTF-8 byte stream across
// fragment boundaries (spec.md §9): feeding it in two calls must accept or
// reject exactly as feeding the concatenation in one call would. It is a
// small DFA over UTF-8's byte-length classes rather than a regex or
// decode-then-check pass, so it never needs to buffer more than the bytes
// of a single in-progress rune.
type utf8Validator struct {
	state      utf8State
	remaining  int  // continuation bytes still expected for the current rune
	lower, upper byte // valid range for the next continuation byte, once known
}

type utf8State int

const (
	utf8Start utf8State = iota
	utf8Continuation
	utf8Reject
)

// feed validates the next chunk against the running state. It returns
// false, permanently, the first time invalid UTF-8 is observed; state is
// not required to be meaningful after that.
func (v *utf8Validator) feed(b []byte) bool {
	for _, c := range b {
		if !v.step(c) {
			v.state = utf8Reject
			return false
		}
	}
	return true
}

// step consumes one byte of input.
func (v *utf8Validator) step(c byte) bool {
	if v.remaining == 0 {
		switch {
		case c < 0x80: // ASCII
			return true
		case c&0xE0 == 0xC0: // 110xxxxx: 2-byte sequence
			if c < 0xC2 { // overlong encoding (C0, C1)
				return false
			}
			v.remaining = 1
			v.lower, v.upper = 0x80, 0xBF
		case c&0xF0 == 0xE0: // 1110xxxx: 3-byte sequence
			v.remaining = 2
			switch c {
			case 0xE0:
				v.lower, v.upper = 0xA0, 0xBF // reject overlong
			case 0xED:
				v.lower, v.upper = 0x80, 0x9F // reject UTF-16 surrogates
			default:
				v.lower, v.upper = 0x80, 0xBF
			}
		case c&0xF8 == 0xF0: // 11110xxx: 4-byte sequence
			if c > 0xF4 { // beyond U+10FFFF
				return false
			}
			v.remaining = 3
			switch c {
			case 0xF0:
				v.lower, v.upper = 0x90, 0xBF // reject overlong
			case 0xF4:
				v.lower, v.upper = 0x80, 0x8F // cap at U+10FFFF
			default:
				v.lower, v.upper = 0x80, 0xBF
			}
		default:
			return false
		}
		return true
	}

	if c < v.lower || c > v.upper {
		return false
	}
	// Only the first continuation byte of a sequence is range-restricted;
	// the rest just need to be plain continuation bytes.
	v.lower, v.upper = 0x80, 0xBF
	v.remaining--
	return true
}

// complete reports whether the stream ended on a rune boundary. Call this
// only once no further fragments will arrive (the final fragment of a
// text message); mid-message it is expected to be false at arbitrary
// split points and that is not an error.
func (v *utf8Validator) complete() bool {
	return v.remaining == 0 && v.state != utf8Reject
}

// validUTF8 is a one-shot convenience wrapper for buffers known to be
// whole (e.g. a close-frame reason, which is never fragmented).
func validUTF8(b []byte) bool {
	var v utf8Validator
	return v.feed(b) && v.complete()
}

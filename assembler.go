package websocket

// assemblerState mirrors spec.md §4.3's transition table: a connection
// accumulates continuation frames into exactly one in-progress message at
// a time, alongside whichever data opcode started it.
type assemblerState int

const (
	assemblerIdle assemblerState = iota
	assemblerInText
	assemblerInBinary
)

// assembler reassembles a sequence of data frames into complete Messages,
// enforcing size/fragment limits and validating UTF-8 incrementally for
// text messages so a split multi-byte rune at a fragment boundary is
// validated correctly either way (spec.md §8 UTF-8 streaming property).
type assembler struct {
	state    assemblerState
	buf      []byte
	fragments int
	utf8     utf8Validator
	compressed bool // RSV1 claimed on the first fragment of the in-progress message

	limits Limits
	exts   extensionPipeline
}

func newAssembler(limits Limits, exts extensionPipeline) *assembler {
	return &assembler{limits: limits, exts: exts}
}

// reset discards any in-progress message, used when the connection aborts
// reassembly (e.g. on a protocol error that still allows a clean close).
func (a *assembler) reset() {
	a.state = assemblerIdle
	a.buf = a.buf[:0]
	a.fragments = 0
	a.utf8 = utf8Validator{}
}

// addFrame feeds one data frame (opcode Continuation, Text, or Binary;
// never a control opcode — those bypass the assembler entirely) into the
// in-progress message. It returns the completed Message when f.fin is
// true, or (nil, nil) when more continuation frames are expected.
func (a *assembler) addFrame(f *rawFrame) (*Message, error) {
	switch a.state {
	case assemblerIdle:
		switch f.opcode {
		case OpcodeText:
			a.state = assemblerInText
		case OpcodeBinary:
			a.state = assemblerInBinary
		case OpcodeContinuation:
			return nil, &ProtocolViolationError{Reason: "continuation frame with no message in progress"}
		default:
			return nil, &ProtocolViolationError{Reason: "unexpected data opcode"}
		}
		if f.rsv1 && !a.exts.rsv1Claimed() {
			return nil, ErrReservedBitsSet
		}
		a.buf = a.buf[:0]
		a.fragments = 0
		a.utf8 = utf8Validator{}
		a.compressed = f.rsv1
	default:
		if f.opcode != OpcodeContinuation {
			return nil, &ProtocolViolationError{Reason: "new message started before previous one finished"}
		}
		if f.rsv1 {
			return nil, &ProtocolViolationError{Reason: "RSV1 set on a continuation frame"}
		}
	}

	a.fragments++
	if a.fragments > a.limits.MaxFragments {
		err := &TooManyFragmentsError{Count: a.fragments, Max: a.limits.MaxFragments}
		a.reset()
		return nil, err
	}

	// Incremental validation only applies to the bytes actually on the
	// wire being UTF-8: when an extension (permessage-deflate) claimed
	// RSV1, the per-fragment payload is compressed and validated only
	// after decode, below, against the full reassembled plaintext.
	if a.state == assemblerInText && !a.compressed {
		if !a.utf8.feed(f.payload) {
			a.reset()
			return nil, ErrInvalidUTF8
		}
	}

	a.buf = append(a.buf, f.payload...)
	if uint64(len(a.buf)) > a.limits.MaxMessageSize {
		err := &MessageTooLargeError{Size: uint64(len(a.buf)), Max: a.limits.MaxMessageSize}
		a.reset()
		return nil, err
	}

	if !f.fin {
		return nil, nil
	}

	if a.state == assemblerInText && !a.compressed && !a.utf8.complete() {
		a.reset()
		return nil, ErrInvalidUTF8
	}

	payload := a.buf
	wasText := a.state == assemblerInText
	wasCompressed := a.compressed
	a.buf = nil
	a.state = assemblerIdle
	a.fragments = 0
	a.utf8 = utf8Validator{}
	a.compressed = false

	if wasCompressed {
		decoded, err := a.exts.decode(payload)
		if err != nil {
			return nil, err
		}
		payload = decoded
		if wasText && !validUTF8(payload) {
			return nil, ErrInvalidUTF8
		}
	}

	if wasText {
		return &Message{Type: MessageText, Text: string(payload)}, nil
	}
	return &Message{Type: MessageBinary, Data: payload}, nil
}

// firstFragmentOpcode reports the opcode to use for frame i (0-based) of n
// total fragments of a message with the given base type (Text or Binary):
// the first fragment carries the real opcode, every later one is a
// continuation (RFC 6455 §5.4).
func firstFragmentOpcode(base Opcode, i int) Opcode {
	if i == 0 {
		return base
	}
	return OpcodeContinuation
}

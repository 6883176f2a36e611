package websocket

import (
	"encoding/binary"
)

// rawFrame is a single WebSocket frame as parsed off (or destined for) the
// wire (RFC 6455 §5.2). It is a transient value: discarded once dispatched
// to the assembler, a control-frame reflex, or the caller.
type rawFrame struct {
	fin              bool
	rsv1, rsv2, rsv3 bool
	opcode           Opcode
	masked           bool
	maskKey          [4]byte
	payload          []byte // owned (unmasked in place) or a view into the read buffer
}

// parseFrame parses one frame from the front of buf.
//
// Returns (frame, consumed, nil) on success. Returns (nil, needMore, nil)
// when buf doesn't yet hold a complete frame — needMore is the minimum
// number of additional bytes required to make progress, never an
// overestimate (spec.md §8 parse-progress property). Returns a non-nil
// error for any RFC violation; buf is left unconsumed in that case.
//
// limits and role gate frame-size and masking-direction validation;
// acceptUnmasked permits a server parse to accept an unmasked frame for
// testing (spec.md §6 accept_unmasked_frames).
func parseFrame(buf []byte, role Role, limits Limits, acceptUnmasked bool) (f *rawFrame, consumed int, needMore int, err error) {
	if len(buf) < 2 {
		return nil, 0, 2 - len(buf), nil
	}

	b0, b1 := buf[0], buf[1]
	opcode := Opcode(b0 & opcodeMask)
	if !opcode.valid() {
		return nil, 0, 0, &ReservedOpcodeError{Opcode: byte(opcode)}
	}

	fr := &rawFrame{
		fin:    b0&finBit != 0,
		rsv1:   b0&rsv1Bit != 0,
		rsv2:   b0&rsv2Bit != 0,
		rsv3:   b0&rsv3Bit != 0,
		opcode: opcode,
		masked: b1&maskBit != 0,
	}

	if opcode.IsControl() && !fr.fin {
		return nil, 0, 0, ErrFragmentedControl
	}
	// permessage-deflate (the only extension this engine negotiates) only
	// ever claims RSV1 on a data frame's first fragment; a control frame
	// carrying it is never legal regardless of what's negotiated.
	if opcode.IsControl() && fr.rsv1 {
		return nil, 0, 0, ErrReservedBitsSet
	}

	// Header size so far: 2 bytes fixed + extended length + mask key.
	pos := 2
	payloadLen := uint64(b1 & lengthMask)

	switch payloadLen {
	case len16Bit:
		if len(buf) < pos+2 {
			return nil, 0, pos + 2 - len(buf), nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	case len64Bit:
		if len(buf) < pos+8 {
			return nil, 0, pos + 8 - len(buf), nil
		}
		payloadLen = binary.BigEndian.Uint64(buf[pos : pos+8])
		if payloadLen&(1<<63) != 0 {
			return nil, 0, 0, &ProtocolViolationError{Reason: "64-bit length has MSB set"}
		}
		pos += 8
	}

	if opcode.IsControl() && payloadLen > MaxControlPayload {
		return nil, 0, 0, &ControlFrameTooLargeError{Size: payloadLen}
	}
	if payloadLen > limits.MaxFrameSize {
		return nil, 0, 0, &FrameTooLargeError{Size: payloadLen, Max: limits.MaxFrameSize}
	}

	if fr.masked {
		if len(buf) < pos+4 {
			return nil, 0, pos + 4 - len(buf), nil
		}
		copy(fr.maskKey[:], buf[pos:pos+4])
		pos += 4
	}

	// Role/masking conformance (RFC 6455 §5.1).
	if role == RoleServer && !fr.masked && !acceptUnmasked {
		return nil, 0, 0, ErrUnmaskedClientFrame
	}
	if role == RoleClient && fr.masked {
		return nil, 0, 0, ErrMaskedServerFrame
	}

	total := pos + int(payloadLen)
	if uint64(pos)+payloadLen > uint64(^uint(0)>>1) {
		return nil, 0, 0, &FrameTooLargeError{Size: payloadLen, Max: limits.MaxFrameSize}
	}
	if len(buf) < total {
		return nil, 0, total - len(buf), nil
	}

	if payloadLen > 0 {
		if fr.masked {
			// Unmask into an owned copy: the source bytes belong to the
			// caller's read buffer and must not be mutated in place.
			owned := make([]byte, payloadLen)
			copy(owned, buf[pos:total])
			applyMask(owned, fr.maskKey)
			fr.payload = owned
		} else {
			// Zero-copy: borrow the read buffer. The connection must not
			// recycle this region until the frame is consumed (spec.md §3).
			fr.payload = buf[pos:total]
		}
	}

	// RSV bits: only legal when a negotiated extension claims them. The
	// caller (Conn) knows which extensions are active and rechecks this
	// after parseFrame for RSV1 specifically (permessage-deflate claims it
	// only on the first fragment); here we only reject RSV2/RSV3, which no
	// extension in this engine ever claims.
	if fr.rsv2 || fr.rsv3 {
		return nil, 0, 0, ErrReservedBitsSet
	}

	return fr, total, 0, nil
}

// writeFrame serializes f to out, appending. If mask is non-nil, the
// payload is masked with that key and MASK is set; masking is applied to
// the copy appended to out, so f.payload itself is left unchanged.
func writeFrame(out []byte, f *rawFrame, mask *[4]byte) ([]byte, error) {
	if !f.opcode.valid() {
		return out, &ReservedOpcodeError{Opcode: byte(f.opcode)}
	}
	if f.opcode.IsControl() {
		if !f.fin {
			return out, ErrFragmentedControl
		}
		if len(f.payload) > MaxControlPayload {
			return out, &ControlFrameTooLargeError{Size: uint64(len(f.payload))}
		}
	}

	var b0 byte
	if f.fin {
		b0 |= finBit
	}
	if f.rsv1 {
		b0 |= rsv1Bit
	}
	if f.rsv2 {
		b0 |= rsv2Bit
	}
	if f.rsv3 {
		b0 |= rsv3Bit
	}
	b0 |= byte(f.opcode) & opcodeMask
	out = append(out, b0)

	payloadLen := uint64(len(f.payload))
	var b1 byte
	if mask != nil {
		b1 |= maskBit
	}

	switch {
	case payloadLen <= len7Bit:
		out = append(out, b1|byte(payloadLen))
	case payloadLen <= 0xFFFF:
		out = append(out, b1|len16Bit)
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(payloadLen))
		out = append(out, buf[:]...)
	default:
		out = append(out, b1|len64Bit)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], payloadLen)
		out = append(out, buf[:]...)
	}

	if mask != nil {
		out = append(out, mask[:]...)
	}

	if len(f.payload) > 0 {
		start := len(out)
		out = append(out, f.payload...)
		if mask != nil {
			applyMask(out[start:], *mask)
		}
	}

	return out, nil
}

// frameWireSize reports how many bytes writeFrame would append for f,
// without mutating anything.
func frameWireSize(f *rawFrame, masked bool) int {
	n := 2
	payloadLen := len(f.payload)
	switch {
	case payloadLen > 0xFFFF:
		n += 8
	case payloadLen > len7Bit:
		n += 2
	}
	if masked {
		n += 4
	}
	return n + payloadLen
}

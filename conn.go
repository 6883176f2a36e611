package websocket

import (
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
)

// ConnState is the connection's position in the close handshake
// (spec.md §4.4): Open -> Closing -> Closed, never backwards.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one WebSocket connection: a Stream plus the framing, masking,
// reassembly, and close-handshake state spec.md §3/§4 describe. The zero
// value is not usable; construct with NewConn.
//
// Concurrency: one goroutine must own Recv (it is not safe to call
// concurrently with itself). Send/SendNoFlush/SendBatch/Flush may be
// called from any goroutine concurrently with Recv and with each other —
// they serialize internally on writeMu. Split(); see half.go gives two
// values that enforce this shape at the type level.
type Conn struct {
	stream Stream
	cfg    Config

	state atomic.Int32

	readMu  sync.Mutex
	readBuf []byte // bytes read from stream but not yet consumed by the frame codec
	asm     *assembler

	writeMu sync.Mutex
	wbuf    *bytebufferpool.ByteBuffer // pooled backing store for batched outbound frames

	exts extensionPipeline

	closeOnce    sync.Once
	wbufOnce     sync.Once
	sentClose    bool
	receivedClose bool
}

// NewConn wraps stream as a WebSocket connection already past the
// handshake (AcceptKey/Sec-WebSocket-Accept having been exchanged by the
// wsupgrade collaborator). cfg.Role selects the side; its zero value is
// RoleServer.
func NewConn(stream Stream, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	exts := newExtensionPipeline(cfg.Extensions)
	c := &Conn{
		stream: stream,
		cfg:    cfg,
		asm:    newAssembler(cfg.Limits, exts),
		exts:   exts,
	}
	c.readBuf = make([]byte, 0, cfg.ReadBufferSize)
	c.wbuf = getBuffer()
	if cap(c.wbuf.B) < cfg.WriteBufferSize {
		c.wbuf.B = make([]byte, 0, cfg.WriteBufferSize)
	}
	return c
}

// State reports the connection's current position in the close handshake.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// IsOpen reports whether the connection can still send and receive
// application messages.
func (c *Conn) IsOpen() bool { return c.State() == StateOpen }

func (c *Conn) transitionTo(s ConnState) {
	for {
		cur := ConnState(c.state.Load())
		if cur >= s {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

// Recv reads and reassembles the next complete application message,
// transparently answering ping frames with a pong and folding
// continuation frames into their parent message. It must not be called
// concurrently with itself.
//
// A received close frame is returned as a MessageClose (not silently
// turned into io.EOF or a bare error) so the caller can inspect the
// peer's code/reason; the close has already been echoed and the
// connection is in StateClosed by the time it's returned, so Recv on a
// subsequent call returns a ConnectionClosedError (ErrConnectionClosed).
func (c *Conn) Recv() (Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.State() == StateClosed {
		return Message{}, &ConnectionClosedError{}
	}

	for {
		f, consumed, needMore, err := parseFrame(c.readBuf, c.cfg.Role, c.cfg.Limits, c.cfg.AcceptUnmaskedFrames)
		if err != nil {
			// A frame-level validation failure is a protocol violation the
			// peer can still be told about (spec.md §7): reply with Close
			// before tearing the stream down.
			c.failAndClose(err, true)
			return Message{}, err
		}
		if f == nil {
			if err := c.fill(needMore); err != nil {
				// The stream itself ended or errored mid-frame; there is
				// no peer to notify and likely no way to reach it.
				c.failAndClose(err, false)
				return Message{}, err
			}
			continue
		}
		c.readBuf = c.readBuf[consumed:]

		if f.opcode.IsControl() {
			msg, done, err := c.handleControlFrame(f)
			if err != nil {
				// handleControlFrame's errors are either I/O failures
				// writing the pong/close reply, or a malformed Close frame
				// itself (decodeClosePayload) — spec.md §7's own exception
				// to the "always reply" rule. Neither should provoke
				// another Close attempt.
				c.failAndClose(err, false)
				return Message{}, err
			}
			if done {
				return msg, nil
			}
			continue
		}

		msg, err := c.asm.addFrame(f)
		if err != nil {
			// Assembler errors (reserved bits, message/fragment limits,
			// invalid UTF-8, fragmentation-sequence violations) are
			// protocol violations per spec.md §7/§8.6: reply with Close.
			c.failAndClose(err, true)
			return Message{}, err
		}
		if msg != nil {
			return *msg, nil
		}
	}
}

// fill issues one Read of up to need bytes from the stream into readBuf.
// When the spare capacity after readBuf is smaller than need, the
// unconsumed bytes are first copied to the front of a new buffer with room
// for need plus ReadBufferSize more.
func (c *Conn) fill(need int) error {
	if need < 1 {
		need = 1
	}
	if cap(c.readBuf)-len(c.readBuf) < need {
		grown := make([]byte, len(c.readBuf), len(c.readBuf)+need+c.cfg.ReadBufferSize)
		copy(grown, c.readBuf)
		c.readBuf = grown
	}

	if d := c.cfg.Timeouts.Read; d > 0 {
		c.stream.SetReadDeadline(time.Now().Add(d))
	}

	start := len(c.readBuf)
	n, err := c.stream.Read(c.readBuf[start : start+need])
	c.readBuf = c.readBuf[:start+n]
	if n > 0 {
		return nil
	}
	if err != nil {
		return err
	}
	return &IncompleteFrameError{N: need}
}

// handleControlFrame answers pings with an immediate pong and processes a
// peer close frame. done is true when msg should be returned to the
// caller of Recv (pings and pongs and the close frame are all surfaced,
// per spec.md's Message sum type); for a ping, the reflex pong has
// already been sent and flushed by the time this returns.
func (c *Conn) handleControlFrame(f *rawFrame) (msg Message, done bool, err error) {
	switch f.opcode {
	case OpcodePing:
		if err := c.writeControlFrame(OpcodePong, f.payload); err != nil {
			return Message{}, false, err
		}
		return Message{Type: MessagePing, Data: f.payload}, true, nil

	case OpcodePong:
		return Message{Type: MessagePong, Data: f.payload}, true, nil

	case OpcodeClose:
		if c.receivedClose {
			return Message{}, false, &ProtocolViolationError{Reason: "second close frame received"}
		}
		code, reason, hasCode, err := decodeClosePayload(f.payload)
		if err != nil {
			return Message{}, false, err
		}
		c.receivedClose = true
		c.transitionTo(StateClosing)

		if !c.sentClose {
			// Mirror the close per RFC 6455 §5.5.1, substituting a sendable
			// code for anything the peer isn't allowed to have put on the
			// wire (it won't have, but a defensive substitution here keeps
			// us from ever emitting an illegal code ourselves).
			echoCode := code
			if !hasCode || !echoCode.sendable() {
				echoCode = CloseNormalClosure
			}
			_ = c.sendCloseFrame(echoCode, "")
		}
		c.transitionTo(StateClosed)
		c.stream.Close()
		c.releaseWriteBuf()

		return Message{Type: MessageClose, CloseCode: code, HasCloseCode: hasCode, CloseReason: reason}, true, nil

	default:
		return Message{}, false, &ReservedOpcodeError{Opcode: byte(f.opcode)}
	}
}

// writeControlFrame sends and flushes a single control frame immediately,
// bypassing any batched application-data writes in wbuf.
func (c *Conn) writeControlFrame(op Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	f := rawFrame{fin: true, opcode: op, payload: payload}
	mask, err := c.outboundMask()
	if err != nil {
		return err
	}
	buf, err := writeFrame(nil, &f, mask)
	if err != nil {
		return err
	}
	return c.writeOut(buf)
}

func (c *Conn) outboundMask() (*[4]byte, error) {
	if c.cfg.Role != RoleClient {
		return nil, nil
	}
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	return &key, nil
}

func (c *Conn) writeOut(buf []byte) error {
	if d := c.cfg.Timeouts.Write; d > 0 {
		c.stream.SetWriteDeadline(time.Now().Add(d))
	}
	_, err := c.stream.Write(buf)
	return err
}

// Send encodes and writes msg, flushing immediately. It is equivalent to
// SendNoFlush followed by Flush.
func (c *Conn) Send(msg Message) error {
	if err := c.SendNoFlush(msg); err != nil {
		return err
	}
	return c.Flush()
}

// SendNoFlush appends msg's frames to the internal write buffer without
// writing to the stream, letting callers batch several messages into one
// syscall via a trailing Flush (spec.md §4.4 send_no_flush/flush split).
func (c *Conn) SendNoFlush(msg Message) error {
	if !c.IsOpen() {
		return &ConnectionClosedError{}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	switch msg.Type {
	case MessageText:
		return c.appendDataMessage(OpcodeText, []byte(msg.Text))
	case MessageBinary:
		return c.appendDataMessage(OpcodeBinary, msg.Data)
	case MessagePing:
		return c.appendControl(OpcodePing, msg.Data)
	case MessagePong:
		return c.appendControl(OpcodePong, msg.Data)
	case MessageClose:
		return c.appendClose(msg)
	default:
		return ErrInvalidMessageType
	}
}

// SendBatch calls SendNoFlush for each message in order, then Flush once.
func (c *Conn) SendBatch(msgs []Message) error {
	for _, m := range msgs {
		if err := c.SendNoFlush(m); err != nil {
			return err
		}
	}
	return c.Flush()
}

// Flush writes any data buffered by SendNoFlush/SendBatch to the stream.
func (c *Conn) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.wbuf.Len() == 0 {
		return nil
	}
	err := c.writeOut(c.wbuf.B)
	c.wbuf.Reset()
	return err
}

// appendDataMessage fragments payload per cfg.FragmentSize (spec.md §4.2
// fragment emission policy: first fragment carries the real opcode, every
// later one is Continuation, only the last has FIN set) and appends every
// resulting frame to wbuf.
func (c *Conn) appendDataMessage(base Opcode, payload []byte) error {
	encoded, err := c.exts.encode(payload)
	if err != nil {
		return err
	}
	rsv1 := c.exts.rsv1Claimed()

	chunkSize := c.cfg.FragmentSize
	if chunkSize <= 0 || len(encoded) <= chunkSize {
		f := rawFrame{fin: true, rsv1: rsv1, opcode: base, payload: encoded}
		return c.appendFrame(&f)
	}

	for i := 0; i < len(encoded); i += chunkSize {
		end := i + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		f := rawFrame{
			fin:     end == len(encoded),
			rsv1:    rsv1 && i == 0,
			opcode:  firstFragmentOpcode(base, i/chunkSize),
			payload: encoded[i:end],
		}
		if err := c.appendFrame(&f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) appendControl(op Opcode, payload []byte) error {
	if len(payload) > MaxControlPayload {
		return &ControlFrameTooLargeError{Size: uint64(len(payload))}
	}
	f := rawFrame{fin: true, opcode: op, payload: payload}
	return c.appendFrame(&f)
}

// appendClose lets a caller send a MessageClose through the ordinary
// Send/SendNoFlush path (e.g. as part of a SendBatch); CloseWithCode
// remains the preferred entry point when the caller also wants the
// stream closed afterward.
func (c *Conn) appendClose(msg Message) error {
	code := msg.CloseCode
	if !msg.HasCloseCode {
		code = CloseNormalClosure
	}
	if !code.sendable() {
		code = CloseNormalClosure
	}
	c.transitionTo(StateClosing)
	if c.sentClose {
		return nil
	}
	f := rawFrame{fin: true, opcode: OpcodeClose, payload: encodeClosePayload(code, msg.CloseReason)}
	if err := c.appendFrame(&f); err != nil {
		return err
	}
	c.sentClose = true
	return nil
}

func (c *Conn) appendFrame(f *rawFrame) error {
	mask, err := c.outboundMask()
	if err != nil {
		return err
	}
	buf, err := writeFrame(c.wbuf.B, f, mask)
	if err != nil {
		return err
	}
	c.wbuf.B = buf
	return nil
}

func (c *Conn) sendCloseFrame(code CloseCode, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sendCloseFrameLocked(code, reason)
}

// sendCloseFrameLocked assumes writeMu is already held.
func (c *Conn) sendCloseFrameLocked(code CloseCode, reason string) error {
	if c.sentClose {
		return nil
	}
	payload := encodeClosePayload(code, reason)
	f := rawFrame{fin: true, opcode: OpcodeClose, payload: payload}
	mask, err := c.outboundMask()
	if err != nil {
		return err
	}
	buf, err := writeFrame(nil, &f, mask)
	if err != nil {
		return err
	}
	c.sentClose = true
	return c.writeOut(buf)
}

// Close sends a close frame (if one hasn't been sent already) and closes
// the underlying stream. It does not block waiting for the peer's
// answering close frame; a caller that wants a clean bidirectional
// handshake should keep calling Recv from its usual reader goroutine
// until it observes the MessageClose Recv returns for the peer's frame,
// or until Recv returns ErrConnectionClosed because this call already
// closed the stream. It is safe to call more than once.
func (c *Conn) Close() error { return c.CloseWithCode(CloseNormalClosure, "") }

// CloseWithCode is Close with an explicit code/reason. A code that isn't
// legal on the wire (spec.md §4: 1004, 1005, 1006, 1015, or anything
// outside the named/private-use ranges) is substituted with
// CloseNormalClosure rather than ever being sent.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.transitionTo(StateClosing)
		if !code.sendable() {
			code = CloseNormalClosure
		}
		err = c.sendCloseFrame(code, reason)
		c.transitionTo(StateClosed)
		closeErr := c.stream.Close()
		c.releaseWriteBuf()
		if err == nil {
			err = closeErr
		}
	})
	return err
}

// releaseWriteBuf returns wbuf to the shared pool exactly once, however the
// connection reaches its terminal state (application-initiated close, a
// peer's close echoed back, or a protocol failure).
func (c *Conn) releaseWriteBuf() {
	c.wbufOnce.Do(func() {
		putBuffer(c.wbuf)
	})
}

// failAndClose reports err via cfg.OnError and tears down the connection.
// When sendClose is true and the connection is still Open, it first emits
// a best-effort Close frame carrying the code closeCodeForError(err) maps
// the failure to, per spec.md §7 ("a protocol violation detected by
// either side MUST trigger a Close frame with an appropriate code before
// the transport is torn down, UNLESS the violation itself is a malformed
// Close... or I/O already failed") and the worked example in §8.6. The
// Close write's own error is ignored: the connection is going away either
// way, and a broken write here must not mask the original err returned to
// the caller.
func (c *Conn) failAndClose(err error, sendClose bool) {
	c.cfg.reportError(err)
	if sendClose && c.State() == StateOpen {
		c.transitionTo(StateClosing)
		_ = c.sendCloseFrame(closeCodeForError(err), "")
	}
	c.transitionTo(StateClosed)
	c.stream.Close()
	c.releaseWriteBuf()
}

// closeCodeForError maps an error observed while parsing or assembling an
// inbound frame to the close code spec.md §7 says to send for it.
func closeCodeForError(err error) CloseCode {
	var frameTooLarge *FrameTooLargeError
	var msgTooLarge *MessageTooLargeError
	var ctrlTooLarge *ControlFrameTooLargeError
	var tooManyFragments *TooManyFragmentsError
	switch {
	case errors.As(err, &frameTooLarge), errors.As(err, &msgTooLarge),
		errors.As(err, &ctrlTooLarge), errors.As(err, &tooManyFragments):
		return CloseMessageTooBig
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidFramePayload
	case errors.Is(err, ErrExtension):
		return ClosePolicyViolation
	default:
		// Reserved/unknown opcode, reserved bits without a negotiated
		// extension, masking-role violations, fragmentation-sequence
		// violations, and anything else structurally wrong with a frame.
		return CloseProtocolError
	}
}

// decodeClosePayload parses a close frame's payload: an optional 2-byte
// big-endian code followed by an optional UTF-8 reason (RFC 6455 §5.5.1).
func decodeClosePayload(payload []byte) (code CloseCode, reason string, hasCode bool, err error) {
	if len(payload) == 0 {
		return 0, "", false, nil
	}
	if len(payload) == 1 {
		return 0, "", false, &ProtocolViolationError{Reason: "close frame payload of length 1"}
	}
	code = CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	if !code.sendable() {
		return 0, "", false, &InvalidCloseCodeError{Code: uint16(code)}
	}
	reasonBytes := payload[2:]
	if !validUTF8(reasonBytes) {
		return 0, "", false, ErrInvalidUTF8
	}
	return code, string(reasonBytes), true, nil
}

// encodeClosePayload is decodeClosePayload's inverse for outbound frames.
func encodeClosePayload(code CloseCode, reason string) []byte {
	if code == 0 {
		return nil
	}
	buf := make([]byte, 2+len(reason))
	buf[0] = byte(code >> 8)
	buf[1] = byte(code)
	copy(buf[2:], reason)
	return buf
}

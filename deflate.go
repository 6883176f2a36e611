package websocket

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// deflateTrailer is appended before inflating (RFC 7692 §7.2.2): the
// sender strips these four bytes on the way out, so the reader must add
// them back, plus one empty stored block, so klauspost/compress/flate
// doesn't return io.ErrUnexpectedEOF looking for a final block that was
// never sent.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff}

// DeflateConfig controls the permessage-deflate extension (RFC 7692)
// negotiated during the HTTP upgrade; construct one per connection from
// the negotiated Sec-WebSocket-Extensions parameters and pass it to
// NewDeflateExtension.
type DeflateConfig struct {
	// ServerNoContextTakeover / ClientNoContextTakeover disable reusing the
	// compressor/decompressor's sliding window across messages in the
	// named direction. Set the one matching this connection's Role plus
	// whichever the peer negotiated for its own direction.
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool

	// ServerMaxWindowBits / ClientMaxWindowBits negotiate a smaller LZ77
	// window (8-15); 0 means the RFC default of 15.
	ServerMaxWindowBits int
	ClientMaxWindowBits int

	// Level is the flate compression level for outbound messages.
	Level int
}

func (c DeflateConfig) withDefaults() DeflateConfig {
	if c.Level == 0 {
		c.Level = flate.BestSpeed
	}
	if c.ServerMaxWindowBits == 0 {
		c.ServerMaxWindowBits = 15
	}
	if c.ClientMaxWindowBits == 0 {
		c.ClientMaxWindowBits = 15
	}
	return c
}

// DeflateExtension implements Extension for permessage-deflate. A single
// instance is bound to one connection: its compressor/decompressor carry
// state across messages whenever context takeover is enabled for that
// direction, so instances must not be shared between connections.
type DeflateExtension struct {
	cfg  DeflateConfig
	role Role

	mu         sync.Mutex
	compressor *flate.Writer
	buf        bytes.Buffer

	decompressor      io.ReadCloser
	dict              []byte // last 32 KB of inflated output, kept under inbound context takeover
	ratioCap          float64
	maxMessageSize    uint64
}

// NewDeflateExtension builds the extension for one connection. limits
// supplies the decompression-ratio cap and message-size ceiling that guard
// against a malicious peer sending a small compressed bomb.
func NewDeflateExtension(role Role, cfg DeflateConfig, limits Limits) *DeflateExtension {
	cfg = cfg.withDefaults()
	d := &DeflateExtension{
		cfg:            cfg,
		role:           role,
		ratioCap:       limits.CompressionRatioCap,
		maxMessageSize: limits.MaxMessageSize,
	}
	d.compressor, _ = flate.NewWriter(&d.buf, cfg.Level)
	return d
}

func (d *DeflateExtension) Name() string       { return "permessage-deflate" }
func (d *DeflateExtension) ClaimsRSV1() bool    { return true }

// noContextTakeoverOutbound reports whether this connection's own sends
// (which run in the opposite direction from what the peer calls
// "context takeover" for) should reset their compressor per message.
func (d *DeflateExtension) noContextTakeoverOutbound() bool {
	if d.role == RoleServer {
		return d.cfg.ServerNoContextTakeover
	}
	return d.cfg.ClientNoContextTakeover
}

func (d *DeflateExtension) noContextTakeoverInbound() bool {
	if d.role == RoleServer {
		return d.cfg.ClientNoContextTakeover
	}
	return d.cfg.ServerNoContextTakeover
}

// Encode compresses payload and trims the trailer RFC 7692 §7.2.1 says the
// sender must remove.
func (d *DeflateExtension) Encode(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf.Reset()
	if _, err := d.compressor.Write(payload); err != nil {
		return nil, err
	}
	if err := d.compressor.Flush(); err != nil {
		return nil, err
	}

	out := d.buf.Bytes()
	out = bytes.TrimSuffix(out, []byte{0x00, 0x00, 0xff, 0xff})
	result := append([]byte(nil), out...)

	if d.noContextTakeoverOutbound() {
		d.compressor.Reset(&d.buf)
	}
	return result, nil
}

// Decode reverses Encode, enforcing the ratio cap and max message size as
// it inflates so a crafted small payload can't expand unboundedly before
// being rejected (spec.md's decompression-ratio-cap guard).
func (d *DeflateExtension) Decode(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := io.MultiReader(bytes.NewReader(payload), bytes.NewReader(deflateTrailer))

	if d.decompressor == nil {
		d.decompressor = flate.NewReader(src)
	} else {
		d.decompressor.(flate.Resetter).Reset(src, d.dict)
	}

	limit := d.maxMessageSize
	if limit == 0 {
		limit = DefaultLimits().MaxMessageSize
	}
	ratioCap := d.ratioCap
	if ratioCap == 0 {
		ratioCap = DefaultLimits().CompressionRatioCap
	}
	maxExpanded := uint64(float64(len(payload))*ratioCap) + 1
	if maxExpanded > limit {
		maxExpanded = limit
	}

	var out bytes.Buffer
	if _, err := io.CopyN(&out, d.decompressor, int64(maxExpanded)+1); err != nil && err != io.EOF {
		return nil, err
	}
	if uint64(out.Len()) > maxExpanded {
		return nil, &MessageTooLargeError{Size: uint64(out.Len()), Max: maxExpanded}
	}

	if d.noContextTakeoverInbound() {
		d.decompressor.Close()
		d.decompressor = nil
	} else {
		d.dict = append(d.dict, out.Bytes()...)
		if len(d.dict) > 32*1024 {
			d.dict = append([]byte(nil), d.dict[len(d.dict)-32*1024:]...)
		}
	}
	return out.Bytes(), nil
}

// Close releases the decompressor's pooled resources, if any.
func (d *DeflateExtension) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decompressor != nil {
		err := d.decompressor.Close()
		d.decompressor = nil
		return err
	}
	return nil
}

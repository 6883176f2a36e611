package websocket

import "time"

// Limits bounds resource consumption per spec.md §3/§6. All fields must be
// non-zero; WithDefaults fills in defaults for zero fields via DefaultLimits.
type Limits struct {
	// MaxFrameSize rejects a single frame whose payload exceeds this at
	// parse time, before any payload allocation.
	MaxFrameSize uint64

	// MaxMessageSize rejects an assembled message exceeding this size.
	MaxMessageSize uint64

	// MaxFragments rejects a fragment chain longer than this.
	MaxFragments int

	// MaxHandshakeSize upper-bounds the HTTP collaborator's request size;
	// the core never parses a handshake, but still carries the value to
	// hand to wsupgrade adapters.
	MaxHandshakeSize int

	// CompressionRatioCap bounds decompressed-size / compressed-size for
	// permessage-deflate, guarding against decompression bombs.
	CompressionRatioCap float64
}

// DefaultLimits returns conservative production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameSize:         32 * 1024 * 1024,
		MaxMessageSize:       32 * 1024 * 1024,
		MaxFragments:         16 * 1024,
		MaxHandshakeSize:     16 * 1024,
		CompressionRatioCap:  1024,
	}
}

// WithDefaults returns a copy of l with zero fields replaced by
// DefaultLimits() values; exported for collaborators outside this package
// (e.g. wsupgrade) that need to fill in defaults before constructing an
// Extension that depends on Limits, such as NewDeflateExtension.
func (l Limits) WithDefaults() Limits { return l.withDefaults() }

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxFrameSize == 0 {
		l.MaxFrameSize = d.MaxFrameSize
	}
	if l.MaxMessageSize == 0 {
		l.MaxMessageSize = d.MaxMessageSize
	}
	if l.MaxFragments == 0 {
		l.MaxFragments = d.MaxFragments
	}
	if l.MaxHandshakeSize == 0 {
		l.MaxHandshakeSize = d.MaxHandshakeSize
	}
	if l.CompressionRatioCap == 0 {
		l.CompressionRatioCap = d.CompressionRatioCap
	}
	return l
}

// Timeouts carries optional deadlines; the zero value (time.Duration(0))
// means "no timeout" for every field.
type Timeouts struct {
	Handshake time.Duration
	Read      time.Duration
	Write     time.Duration
	Idle      time.Duration
}

// Config is the immutable-for-the-connection-lifetime configuration a
// Conn is constructed with (spec.md §3 Config entity).
type Config struct {
	// Role determines outbound masking and inbound-mask validation.
	Role Role

	// Limits bounds frame/message/fragment sizes. Zero fields take
	// DefaultLimits() values.
	Limits Limits

	// FragmentSize is the outbound fragmentation threshold: messages
	// larger than this are split across multiple data frames. Zero means
	// DefaultFragmentSize.
	FragmentSize int

	// ReadBufferSize / WriteBufferSize size the connection's growable I/O
	// buffers at construction. Zero means DefaultBufferSize.
	ReadBufferSize  int
	WriteBufferSize int

	Timeouts Timeouts

	// AllowedOrigins is consumed by the wsupgrade collaborator, not the
	// core; carried here so a single Config can configure both layers.
	AllowedOrigins []string

	// AcceptUnmaskedFrames permits a server to accept unmasked client
	// frames. Test-only; never set this in production (RFC 6455 §5.1).
	AcceptUnmaskedFrames bool

	// Extensions lists the extensions negotiated for this connection
	// (e.g. a *DeflateExtension), most commonly produced by the
	// wsupgrade collaborator's negotiation step.
	Extensions []Extension

	// OnError, if set, is called with every error that transitions the
	// connection to Closed. It is the library's only hook into an
	// application's observability stack — see SPEC_FULL.md for why no
	// logging dependency is imported directly.
	OnError func(error)
}

const (
	// DefaultFragmentSize is the outbound fragmentation threshold.
	DefaultFragmentSize = 32 * 1024
	// DefaultBufferSize is the initial read/write buffer capacity.
	DefaultBufferSize = 4096
)

// withDefaults returns a copy of c with zero-valued fields replaced by
// their documented defaults.
func (c Config) withDefaults() Config {
	c.Limits = c.Limits.withDefaults()
	if c.FragmentSize == 0 {
		c.FragmentSize = DefaultFragmentSize
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = DefaultBufferSize
	}
	return c
}

func (c Config) reportError(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}

// Package wsupgrade performs the RFC 6455 §4 opening handshake over an
// already-accepted HTTP connection and hands the result to the websocket
// core as a *websocket.Conn. It is deliberately the only place in this
// module that parses HTTP: the core engine (see the root package) never
// sees a request line or a header map.
package wsupgrade

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	ws "github.com/infinitete/wsrs"
)

var (
	ErrInvalidMethod     = errors.New("wsupgrade: method must be GET")
	ErrMissingUpgrade    = errors.New("wsupgrade: missing or invalid Upgrade header")
	ErrMissingConnection = errors.New("wsupgrade: missing or invalid Connection header")
	ErrInvalidVersion    = errors.New("wsupgrade: Sec-WebSocket-Version must be 13")
	ErrMissingSecKey     = errors.New("wsupgrade: missing Sec-WebSocket-Key")
	ErrOriginDenied      = errors.New("wsupgrade: origin rejected")
	ErrHijackFailed      = errors.New("wsupgrade: ResponseWriter does not support hijacking")
)

// Options configures the upgrade handshake. The zero value is usable:
// no subprotocol negotiation, no origin check (same as allowing all
// origins — set CheckOrigin explicitly in production), and the core's
// default Limits/buffer sizes.
type Options struct {
	Subprotocols []string

	// CheckOrigin, if set, overrides the default origin check entirely.
	// When nil, AllowedOrigins governs: an empty AllowedOrigins allows any
	// origin (same caveat as the teacher's: insecure for production).
	CheckOrigin    func(*http.Request) bool
	AllowedOrigins []string

	// Deflate, if non-nil, enables permessage-deflate when the client
	// requests it in Sec-WebSocket-Extensions. Only whether it is nil is
	// read: the negotiated parameters are taken from the client's offer.
	Deflate *ws.DeflateConfig

	Limits  ws.Limits
	Timeouts ws.Timeouts

	ReadBufferSize  int
	WriteBufferSize int

	OnError func(error)
}

// Upgrade performs the handshake and returns a server-role *ws.Conn ready
// for Recv/Send. On a request validation error it has already written an
// appropriate HTTP error response. ErrHijackFailed and errors from
// hijacking or flushing come after WriteHeader(101) has been called, and
// no error response is written for them.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*ws.Conn, error) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket: method must be GET", http.StatusMethodNotAllowed)
		return nil, ErrInvalidMethod
	}
	if !headerContainsToken(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "websocket: missing Upgrade header", http.StatusBadRequest)
		return nil, ErrMissingUpgrade
	}
	if !headerContainsToken(r.Header.Get("Connection"), "upgrade") {
		http.Error(w, "websocket: missing Connection header", http.StatusBadRequest)
		return nil, ErrMissingConnection
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		w.Header().Set("Sec-WebSocket-Version", "13")
		http.Error(w, "websocket: unsupported version", http.StatusUpgradeRequired)
		return nil, ErrInvalidVersion
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "websocket: missing Sec-WebSocket-Key", http.StatusBadRequest)
		return nil, ErrMissingSecKey
	}
	if !checkOrigin(r, opts) {
		http.Error(w, "websocket: origin rejected", http.StatusForbidden)
		return nil, ErrOriginDenied
	}

	subprotocol := negotiateSubprotocol(r.Header.Get("Sec-WebSocket-Protocol"), opts.Subprotocols)
	deflateNegotiated, deflateParams := negotiateDeflate(r.Header.Get("Sec-WebSocket-Extensions"), opts.Deflate != nil)

	accept := ws.AcceptKey(key)

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", accept)
	if subprotocol != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if deflateNegotiated {
		w.Header().Set("Sec-WebSocket-Extensions", deflateParams.headerValue())
	}
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, ErrHijackFailed
	}
	netConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return nil, err
	}
	if err := bufrw.Flush(); err != nil {
		netConn.Close()
		return nil, err
	}
	if bufrw.Reader.Buffered() > 0 {
		// A pipelined client sent WebSocket frames before we finished
		// flushing the 101 response; stitch them back in front of the
		// raw conn so the core doesn't lose them.
		buffered, _ := bufrw.Reader.Peek(bufrw.Reader.Buffered())
		netConn = &prefixedConn{Conn: netConn, prefix: append([]byte(nil), buffered...)}
	}

	cfg := ws.Config{
		Role:                 ws.RoleServer,
		Limits:               opts.Limits,
		ReadBufferSize:       opts.ReadBufferSize,
		WriteBufferSize:      opts.WriteBufferSize,
		Timeouts:             opts.Timeouts,
		AllowedOrigins:       opts.AllowedOrigins,
		AcceptUnmaskedFrames: false,
		OnError:              opts.OnError,
	}
	if deflateNegotiated {
		cfg.Extensions = []ws.Extension{ws.NewDeflateExtension(ws.RoleServer, deflateParams.toConfig(), cfg.Limits.WithDefaults())}
	}

	return ws.NewConn(netConn, cfg), nil
}

// checkOrigin applies opts.CheckOrigin if set, else opts.AllowedOrigins
// (an exact match against the Origin header; empty AllowedOrigins allows
// everything).
func checkOrigin(r *http.Request, opts Options) bool {
	if opts.CheckOrigin != nil {
		return opts.CheckOrigin(r)
	}
	if len(opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range opts.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func headerContainsToken(header, token string) bool {
	for _, h := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(h), token) {
			return true
		}
	}
	return false
}

func negotiateSubprotocol(requested string, serverProtos []string) string {
	if len(serverProtos) == 0 || requested == "" {
		return ""
	}
	for _, want := range strings.Split(requested, ",") {
		want = strings.TrimSpace(want)
		for _, have := range serverProtos {
			if want == have {
				return want
			}
		}
	}
	return ""
}

type deflateParams struct {
	serverNoContextTakeover bool
	clientNoContextTakeover bool
	serverMaxWindowBits     int
	clientMaxWindowBits     int
}

func (p deflateParams) toConfig() ws.DeflateConfig {
	return ws.DeflateConfig{
		ServerNoContextTakeover: p.serverNoContextTakeover,
		ClientNoContextTakeover: p.clientNoContextTakeover,
		ServerMaxWindowBits:     p.serverMaxWindowBits,
		ClientMaxWindowBits:     p.clientMaxWindowBits,
	}
}

func (p deflateParams) headerValue() string {
	var b strings.Builder
	b.WriteString("permessage-deflate")
	if p.serverNoContextTakeover {
		b.WriteString("; server_no_context_takeover")
	}
	if p.clientNoContextTakeover {
		b.WriteString("; client_no_context_takeover")
	}
	if p.serverMaxWindowBits != 0 {
		b.WriteString("; server_max_window_bits=")
		b.WriteString(strconv.Itoa(p.serverMaxWindowBits))
	}
	if p.clientMaxWindowBits != 0 {
		b.WriteString("; client_max_window_bits=")
		b.WriteString(strconv.Itoa(p.clientMaxWindowBits))
	}
	return b.String()
}

// negotiateDeflate parses the client's Sec-WebSocket-Extensions offer and
// reports whether permessage-deflate should be enabled, per RFC 7692 §5.
func negotiateDeflate(offered string, serverWantsDeflate bool) (bool, deflateParams) {
	if !serverWantsDeflate || offered == "" {
		return false, deflateParams{}
	}

	for _, candidate := range strings.Split(offered, ",") {
		parts := strings.Split(candidate, ";")
		name := strings.TrimSpace(parts[0])
		if name != "permessage-deflate" {
			continue
		}
		var p deflateParams
		for _, raw := range parts[1:] {
			kv := strings.SplitN(strings.TrimSpace(raw), "=", 2)
			key := kv[0]
			switch key {
			case "server_no_context_takeover":
				p.serverNoContextTakeover = true
			case "client_no_context_takeover":
				p.clientNoContextTakeover = true
			case "server_max_window_bits":
				if len(kv) == 2 {
					if n, err := strconv.Atoi(strings.Trim(kv[1], `"`)); err == nil {
						p.serverMaxWindowBits = n
					}
				}
			case "client_max_window_bits":
				if len(kv) == 2 {
					if n, err := strconv.Atoi(strings.Trim(kv[1], `"`)); err == nil {
						p.clientMaxWindowBits = n
					}
				}
			}
		}
		return true, p
	}
	return false, deflateParams{}
}

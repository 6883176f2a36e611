package wsupgrade

import (
	"bufio"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	ws "github.com/infinitete/wsrs"
)

var ErrInvalidScheme = errors.New("wsupgrade: URL scheme must be ws or wss")
var ErrHandshakeFailed = errors.New("wsupgrade: server did not accept the handshake")

// DialOptions configures an outbound handshake.
type DialOptions struct {
	Header       http.Header
	Subprotocols []string
	Deflate      *ws.DeflateConfig

	Limits   ws.Limits
	Timeouts ws.Timeouts

	ReadBufferSize  int
	WriteBufferSize int

	TLSConfig *tls.Config
	OnError   func(error)
}

// Dial opens a TCP (or TLS, for wss://) connection to target, performs the
// RFC 6455 §4.1 opening handshake as a client, and returns a client-role
// *ws.Conn. Unlike the teacher's hand-rolled request/response text, this
// builds the request with net/http and parses the response with
// http.ReadResponse, reusing the standard library's HTTP/1.1 parser
// instead of re-deriving status-line and header parsing.
func Dial(target string, opts DialOptions) (*ws.Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	var tcpScheme string
	switch u.Scheme {
	case "ws":
		tcpScheme = "tcp"
	case "wss":
		tcpScheme = "tls"
	default:
		return nil, ErrInvalidScheme
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if tcpScheme == "tls" {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}

	var netConn net.Conn
	if tcpScheme == "tls" {
		netConn, err = tls.Dial("tcp", host, opts.TLSConfig)
	} else {
		netConn, err = net.Dial("tcp", host)
	}
	if err != nil {
		return nil, err
	}

	key, err := newClientKey()
	if err != nil {
		netConn.Close()
		return nil, err
	}

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: u.RequestURI()},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	for i, proto := range opts.Subprotocols {
		if i == 0 {
			req.Header.Set("Sec-WebSocket-Protocol", proto)
		} else {
			req.Header.Add("Sec-WebSocket-Protocol", proto)
		}
	}
	var wantDeflate deflateParams
	if opts.Deflate != nil {
		wantDeflate = deflateParams{
			serverNoContextTakeover: opts.Deflate.ServerNoContextTakeover,
			clientNoContextTakeover: opts.Deflate.ClientNoContextTakeover,
			serverMaxWindowBits:     opts.Deflate.ServerMaxWindowBits,
			clientMaxWindowBits:     opts.Deflate.ClientMaxWindowBits,
		}
		req.Header.Set("Sec-WebSocket-Extensions", wantDeflate.headerValue())
	}

	if err := req.Write(netConn); err != nil {
		netConn.Close()
		return nil, err
	}

	br := bufio.NewReader(netConn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols ||
		resp.Header.Get("Sec-WebSocket-Accept") != ws.AcceptKey(key) {
		netConn.Close()
		return nil, fmt.Errorf("%w: status %d", ErrHandshakeFailed, resp.StatusCode)
	}

	deflateEnabled, negotiated := negotiateDeflate(resp.Header.Get("Sec-WebSocket-Extensions"), opts.Deflate != nil)

	conn := netConn
	if br.Buffered() > 0 {
		buffered, _ := br.Peek(br.Buffered())
		conn = &prefixedConn{Conn: netConn, prefix: append([]byte(nil), buffered...)}
	}

	cfg := ws.Config{
		Role:            ws.RoleClient,
		Limits:          opts.Limits,
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		Timeouts:        opts.Timeouts,
		OnError:         opts.OnError,
	}
	if deflateEnabled {
		cfg.Extensions = []ws.Extension{ws.NewDeflateExtension(ws.RoleClient, negotiated.toConfig(), cfg.Limits.WithDefaults())}
	}

	return ws.NewConn(conn, cfg), nil
}

func newClientKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

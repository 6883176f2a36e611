package wsupgrade

import (
	"net"

	"github.com/valyala/fasthttp"

	ws "github.com/infinitete/wsrs"
)

// UpgradeFastHTTP performs the handshake over a fasthttp.RequestCtx using
// RequestCtx.Hijack, for servers built on valyala/fasthttp instead of
// net/http. handler runs on the hijacked net.Conn once fasthttp has
// flushed the 101 response; it owns the connection for the rest of its
// lifetime and should not return until the WebSocket session is done.
func UpgradeFastHTTP(ctx *fasthttp.RequestCtx, opts Options, handler func(*ws.Conn)) error {
	if !ctx.IsGet() {
		ctx.Error("websocket: method must be GET", fasthttp.StatusMethodNotAllowed)
		return ErrInvalidMethod
	}
	if !headerContainsToken(string(ctx.Request.Header.Peek("Upgrade")), "websocket") {
		ctx.Error("websocket: missing Upgrade header", fasthttp.StatusBadRequest)
		return ErrMissingUpgrade
	}
	if !headerContainsToken(string(ctx.Request.Header.Peek("Connection")), "upgrade") {
		ctx.Error("websocket: missing Connection header", fasthttp.StatusBadRequest)
		return ErrMissingConnection
	}
	if string(ctx.Request.Header.Peek("Sec-WebSocket-Version")) != "13" {
		ctx.Response.Header.Set("Sec-WebSocket-Version", "13")
		ctx.Error("websocket: unsupported version", fasthttp.StatusUpgradeRequired)
		return ErrInvalidVersion
	}
	key := string(ctx.Request.Header.Peek("Sec-WebSocket-Key"))
	if key == "" {
		ctx.Error("websocket: missing Sec-WebSocket-Key", fasthttp.StatusBadRequest)
		return ErrMissingSecKey
	}
	// opts.CheckOrigin is typed for net/http; a fasthttp caller that needs
	// an origin check should inspect ctx.Request.Header itself before
	// calling UpgradeFastHTTP, since *fasthttp.RequestCtx carries no
	// *http.Request to hand it.

	subprotocol := negotiateSubprotocol(string(ctx.Request.Header.Peek("Sec-WebSocket-Protocol")), opts.Subprotocols)
	deflateNegotiated, params := negotiateDeflate(string(ctx.Request.Header.Peek("Sec-WebSocket-Extensions")), opts.Deflate != nil)

	accept := ws.AcceptKey(key)

	ctx.Response.Header.Set("Upgrade", "websocket")
	ctx.Response.Header.Set("Connection", "Upgrade")
	ctx.Response.Header.Set("Sec-WebSocket-Accept", accept)
	if subprotocol != "" {
		ctx.Response.Header.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if deflateNegotiated {
		ctx.Response.Header.Set("Sec-WebSocket-Extensions", params.headerValue())
	}
	ctx.SetStatusCode(fasthttp.StatusSwitchingProtocols)

	ctx.Hijack(func(netConn net.Conn) {
		cfg := ws.Config{
			Role:            ws.RoleServer,
			Limits:          opts.Limits,
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			Timeouts:        opts.Timeouts,
			OnError:         opts.OnError,
		}
		if deflateNegotiated {
			cfg.Extensions = []ws.Extension{ws.NewDeflateExtension(ws.RoleServer, params.toConfig(), cfg.Limits.WithDefaults())}
		}
		handler(ws.NewConn(netConn, cfg))
	})
	return nil
}

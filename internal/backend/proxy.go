// Package backend provides the minimal reverse-proxy hand-off to the
// protected application sitting behind the filter. The downstream
// application itself is out of scope; this package only gets a request
// from the filter to it and the response back.
package backend

import (
	"log/slog"

	"github.com/valyala/fasthttp"
)

// stubBody is returned when no backend address is configured, so the
// filter can still be exercised end-to-end without a real protected app.
const stubBody = `{"detail":"no backend configured"}`

// New builds the downstream fasthttp.RequestHandler the Filter forwards
// allowed requests to. An empty addr yields a stub handler.
func New(addr string, logger *slog.Logger) fasthttp.RequestHandler {
	if addr == "" {
		return func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(stubBody)
		}
	}

	client := &fasthttp.HostClient{Addr: addr, IsTLS: false}

	return func(ctx *fasthttp.RequestCtx) {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		ctx.Request.CopyTo(req)
		req.SetHost(addr)

		if err := client.Do(req, resp); err != nil {
			logger.Warn("backend forward failed", "addr", addr, "error", err)
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"detail":"Bad Gateway"}`)
			return
		}

		resp.CopyTo(&ctx.Response)
	}
}

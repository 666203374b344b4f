// Package response renders the configured denial response for a blocked
// request onto a fasthttp.RequestCtx.
package response

import (
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/edgeguard/internal/config"
)

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeText = "text/plain; charset=utf-8"
)

// Render writes spec's status, content type, and body to ctx. JSON bodies
// use the pre-parsed RawJSON from config load time, never re-parsing the
// original string on the request path.
func Render(ctx *fasthttp.RequestCtx, spec config.ResponseSpec) {
	ctx.SetStatusCode(spec.StatusCode)

	switch spec.ReturnAs {
	case config.ReturnHTML:
		ctx.SetContentType(contentTypeHTML)
		ctx.SetBodyString(spec.Body)
	case config.ReturnText:
		ctx.SetContentType(contentTypeText)
		ctx.SetBodyString(spec.Body)
	default:
		ctx.SetContentType(contentTypeJSON)
		if spec.RawJSON != nil {
			ctx.SetBody(spec.RawJSON)
		} else {
			ctx.SetBodyString(spec.Body)
		}
	}
}

// RenderRetryAfter sets the Retry-After header to the given absolute
// epoch-second value before Render writes the body, matching the
// reference implementation's observed behavior for rate-limited requests.
func RenderRetryAfter(ctx *fasthttp.RequestCtx, resetAtUnix int64) {
	ctx.Response.Header.Set(fasthttp.HeaderRetryAfter, strconv.FormatInt(resetAtUnix, 10))
}

package filter

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handlers registered
// alongside the filtered surface.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// HealthStatus reports whether the filter's upstream dependencies look
// usable. There is no active probing (non-goal); this reflects state
// already observed from real request traffic.
type HealthStatus struct {
	BadListsLoaded bool
}

// Start starts the HTTP server on addr with no management routes.
func (f *Filter) Start(addr string) error {
	return f.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server on addr. Every path other than
// the management routes below passes through the filter before reaching
// the downstream handler.
func (f *Filter) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	r.GET("/health", f.handleHealth)
	r.GET("/readiness", f.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	// Any path the router doesn't own itself is the protected surface:
	// run it through the filter state machine.
	r.NotFound = f.Handler()

	handler := applyMiddleware(r.Handler,
		recovery(f.logger),
		requestID,
		timing,
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

// upstreamStater is implemented by enrichment.Coordinator; reported on
// /health when the injected lookuper supports it.
type upstreamStater interface {
	UpstreamState() string
}

func (f *Filter) handleHealth(ctx *fasthttp.RequestCtx) {
	status := "ok"
	upstream := "unknown"
	if s, ok := f.lookup.(upstreamStater); ok {
		upstream = s.UpstreamState()
		if upstream == "open" {
			status = "degraded"
		}
	}
	writeJSON(ctx, map[string]any{
		"status":   status,
		"version":  "0.1.0",
		"upstream": upstream,
	})
}

func (f *Filter) handleReadiness(ctx *fasthttp.RequestCtx) {
	if f.badLists == nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		writeJSON(ctx, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(ctx, map[string]string{"status": "ok"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}

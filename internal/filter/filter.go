// Package filter implements the per-request state machine: cache lookup,
// rate-limit handling, enrichment refresh, decision dispatch, and
// response emission.
package filter

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/edgeguard/internal/badip"
	"github.com/nulpointcorp/edgeguard/internal/config"
	"github.com/nulpointcorp/edgeguard/internal/decision"
	"github.com/nulpointcorp/edgeguard/internal/enrichment"
	"github.com/nulpointcorp/edgeguard/internal/metrics"
	"github.com/nulpointcorp/edgeguard/internal/response"
)

// lookuper is the subset of enrichment.Client/Coordinator the Filter
// depends on, so tests can substitute a fake upstream.
type lookuper interface {
	Lookup(ctx context.Context, ip string) (enrichment.Record, enrichment.RateLimit, error)
}

var serviceUnavailableSpec = config.ResponseSpec{
	Body:       `{"detail":"Service Unavailable"}`,
	StatusCode: fasthttp.StatusServiceUnavailable,
	ReturnAs:   config.ReturnJSON,
	RawJSON:    []byte(`{"detail":"Service Unavailable"}`),
}

// Filter is the request-time orchestrator described by spec.md §4.5.
type Filter struct {
	downstream fasthttp.RequestHandler
	cfg        *config.Config
	lookup     lookuper
	cache      *enrichment.Cache
	badLists   *badip.Lists
	metrics    *metrics.Registry
	logger     *slog.Logger

	// resetAt holds the RateState.reset_at epoch second; 0 means never
	// rate-limited. Accessed without a mutex since it is a single scalar
	// where last-writer-wins is an accepted race (spec.md §5).
	resetAt atomic.Int64
}

// New builds a Filter. downstream is invoked for every forwarded request.
func New(downstream fasthttp.RequestHandler, cfg *config.Config, lookup lookuper, cache *enrichment.Cache, badLists *badip.Lists, reg *metrics.Registry, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		downstream: downstream,
		cfg:        cfg,
		lookup:     lookup,
		cache:      cache,
		badLists:   badLists,
		metrics:    reg,
		logger:     logger,
	}
}

// Handler returns the per-request fasthttp entry point.
func (f *Filter) Handler() fasthttp.RequestHandler {
	return f.serve
}

func (f *Filter) serve(ctx *fasthttp.RequestCtx) {
	if f.cfg == nil {
		f.downstream(ctx)
		return
	}

	ip, err := config.CanonicalIP(ctx.RemoteIP().String())
	if err != nil {
		response.Render(ctx, serviceUnavailableSpec)
		return
	}
	path := string(ctx.Path())

	if _, blocked := f.cfg.BlockIP[ip]; blocked {
		f.deny(ctx, ip, path, config.CategoryIP)
		return
	}

	if isPrivateOrReserved(ip) {
		response.Render(ctx, serviceUnavailableSpec)
		return
	}

	now := time.Now()
	record, fresh := f.cache.Fresh(ip, now, f.cfg.Cache.InvalidateSuccessAfter, f.cfg.Cache.InvalidateErrorAfter)

	if fresh {
		f.recordCacheOutcome(true)
	} else {
		f.recordCacheOutcome(false)

		if resetAt := f.resetAt.Load(); resetAt != 0 && now.Unix() < resetAt {
			response.RenderRetryAfter(ctx, resetAt)
			response.Render(ctx, serviceUnavailableSpec)
			return
		}
		if f.metrics != nil {
			f.metrics.SetRateLimited(false)
		}

		start := time.Now()
		fetched, rate, lookupErr := f.lookup.Lookup(ctx, ip)
		if lookupErr != nil {
			f.logger.Warn("enrichment lookup failed", "ip", ip, "error", lookupErr)
			response.Render(ctx, serviceUnavailableSpec)
			return
		}

		f.cache.Put(ip, fetched)
		f.recordUpstream(fetched, time.Since(start))

		if rate.Exhausted {
			f.resetAt.Store(rate.ResetAt.Unix())
			if f.metrics != nil {
				f.metrics.SetRateLimited(true)
			}
		}

		record = fetched
	}

	if !record.Actionable() {
		// Covers a freshly fetched transport failure/non-200/fail-payload
		// record, and a cached one replayed from an earlier fetch; both
		// force 503 without a further upstream call.
		response.Render(ctx, serviceUnavailableSpec)
		return
	}

	inbound, outbound := f.badLists.Contains(ip)
	d := decision.Evaluate(decision.EvalRequest{
		IP:            ip,
		Path:          path,
		Continent:     record.Continent,
		Country:       record.Country,
		ASN:           record.ASN,
		RDNSHostname:  record.RDNSHostname,
		IsHosting:     record.IsHosting,
		IsProxy:       record.IsProxy,
		InboundBadIP:  inbound,
		OutboundBadIP: outbound,
	}, f.cfg)

	if !d.Allow {
		f.deny(ctx, ip, path, d.Category)
		return
	}

	if f.metrics != nil {
		f.metrics.RecordDecision("")
	}
	f.downstream(ctx)
}

func (f *Filter) deny(ctx *fasthttp.RequestCtx, ip, path, category string) {
	response.Render(ctx, f.cfg.Response.ForCategory(category))
	if f.metrics != nil {
		f.metrics.RecordDecision(category)
	}
	if !f.cfg.DisableLogging {
		f.logger.Info("filter_decision",
			"ip", ip, "path", path, "category", category,
			"msg", "Blocked '"+ip+"' from accessing '"+path+"' based on "+category+" block condition.",
		)
	}
}

func (f *Filter) recordCacheOutcome(hit bool) {
	if f.metrics == nil {
		return
	}
	if hit {
		f.metrics.CacheHit()
	} else {
		f.metrics.CacheMiss()
	}
	f.metrics.SetCacheSize(f.cache.Len())
}

func (f *Filter) recordUpstream(record enrichment.Record, dur time.Duration) {
	if f.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case !record.Successful():
		outcome = "transport_error"
	case !record.Actionable():
		outcome = "upstream_fail"
	}
	f.metrics.RecordUpstream(outcome, dur)
}

// isPrivateOrReserved reports whether ip (already canonicalized) is
// unparseable, private, loopback, link-local, unspecified or multicast.
// Other special-purpose ranges (for example 100.64.0.0/10, the
// documentation prefixes, or 240.0.0.0/4) are not detected and are treated
// as public. Per spec.md §7 a match still 503s even though
// "allow internal traffic through" is the more natural reading; the
// reference behavior is preserved as observed.
func isPrivateOrReserved(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsPrivate() ||
		parsed.IsLoopback() ||
		parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() ||
		parsed.IsUnspecified() ||
		parsed.IsMulticast()
}

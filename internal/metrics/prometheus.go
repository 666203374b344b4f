// Package metrics provides a Prometheus metrics registry for edgeguard.
//
// All metrics are scoped to a private registry (not the global default)
// so they don't interfere with host-level metrics when edgeguard is
// embedded in front of another application. The /metrics HTTP handler is
// exposed via Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// edgeguard_decisions_total{category}; category="" means forwarded.
	decisionsTotal *prometheus.CounterVec

	// edgeguard_cache_hits_total / edgeguard_cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// edgeguard_cache_size: current number of live cache entries.
	cacheSize prometheus.Gauge

	// edgeguard_upstream_requests_total{outcome}
	upstreamRequests *prometheus.CounterVec

	// edgeguard_upstream_duration_seconds
	upstreamDuration prometheus.Histogram

	// edgeguard_rate_limited: 1 while upstream calls are suppressed by
	// RateState, 0 otherwise.
	rateLimited prometheus.Gauge

	metricsHandler fasthttp.RequestHandler
}

// New builds a Registry backed by a fresh private prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeguard_decisions_total",
				Help: "Total number of filter decisions, labeled by denial category (empty for forwarded requests)",
			},
			[]string{"category"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeguard_cache_hits_total",
			Help: "Total number of fresh enrichment cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeguard_cache_misses_total",
			Help: "Total number of enrichment cache misses or stale entries",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgeguard_cache_size",
			Help: "Current number of live enrichment cache entries",
		}),

		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeguard_upstream_requests_total",
				Help: "Total number of enrichment lookups, labeled by outcome",
			},
			[]string{"outcome"},
		),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgeguard_upstream_duration_seconds",
			Help:    "Enrichment lookup duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		rateLimited: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgeguard_rate_limited",
			Help: "1 while upstream calls are suppressed due to rate-limit exhaustion, 0 otherwise",
		}),
	}

	reg.MustRegister(
		r.decisionsTotal,
		r.cacheHits,
		r.cacheMisses,
		r.cacheSize,
		r.upstreamRequests,
		r.upstreamDuration,
		r.rateLimited,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// RecordDecision increments the counter for category. An empty category
// means the request was forwarded.
func (r *Registry) RecordDecision(category string) {
	r.decisionsTotal.WithLabelValues(category).Inc()
}

func (r *Registry) CacheHit()  { r.cacheHits.Inc() }
func (r *Registry) CacheMiss() { r.cacheMisses.Inc() }

// SetCacheSize reports the cache's current live entry count.
func (r *Registry) SetCacheSize(n int) { r.cacheSize.Set(float64(n)) }

// RecordUpstream records one enrichment lookup's outcome and duration.
func (r *Registry) RecordUpstream(outcome string, dur time.Duration) {
	r.upstreamRequests.WithLabelValues(outcome).Inc()
	r.upstreamDuration.Observe(dur.Seconds())
}

// SetRateLimited reports whether upstream calls are currently suppressed.
func (r *Registry) SetRateLimited(active bool) {
	if active {
		r.rateLimited.Set(1)
		return
	}
	r.rateLimited.Set(0)
}

func (r *Registry) Handler() fasthttp.RequestHandler  { return r.metricsHandler }
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }

// Package enrichment talks to the upstream geo-IP service and caches the
// results per client IP.
package enrichment

import "time"

// UpstreamStatusSuccess and UpstreamStatusFail mirror the "status" field
// the upstream service reports inside a 200 payload.
const (
	UpstreamStatusSuccess = "success"
	UpstreamStatusFail    = "fail"
)

// Record is one enrichment result, cached per IP. It is created once per
// upstream response (success or HTTP failure) and never mutated after
// that, a refresh overwrites it wholesale.
type Record struct {
	StatusCode int

	Continent      string
	Country        string
	ASN            *int
	RDNSHostname   string
	IsHosting      bool
	IsProxy        bool
	UpstreamStatus string

	LastUpdated time.Time
}

// Successful reports whether the record's upstream HTTP call returned
// 200, the sole determinant of cache classification (documented invariant:
// classification is based on transport status_code, never on the
// payload's own "status" field).
func (r Record) Successful() bool {
	return r.StatusCode == 200
}

// Fresh reports whether r is still usable without a refetch, given now
// and the configured success/error TTLs. A TTL of 0 means "never stale".
func (r Record) Fresh(now time.Time, invalidateSuccessAfter, invalidateErrorAfter time.Duration) bool {
	ttl := invalidateErrorAfter
	if r.Successful() {
		ttl = invalidateSuccessAfter
	}
	if ttl == 0 {
		return true
	}
	return now.Before(r.LastUpdated.Add(ttl))
}

// Actionable reports whether r is a fully populated, usable-for-decisions
// record: a 200 response whose payload itself reported "success".
func (r Record) Actionable() bool {
	return r.Successful() && r.UpstreamStatus == UpstreamStatusSuccess
}

// RateLimit carries the upstream's advertised quota state from one call.
type RateLimit struct {
	// Exhausted is true when the upstream reported zero remaining calls
	// in the current window.
	Exhausted bool
	// ResetAt is the absolute time at or after which calls are permitted
	// again. Only meaningful when Exhausted is true.
	ResetAt time.Time
}

package enrichment

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coordinator wraps a Client so that concurrent cache misses for the same
// IP collapse into a single upstream call, a permitted, non-semantics-
// changing optimization (spec.md §5 and §9): every waiter observes the
// same result a non-deduplicated call would have produced for it. It also
// trips a circuit breaker across an extended run of upstream failures, so
// a sustained outage short-circuits to a synthetic transport failure
// instead of queuing every request behind the same slow timeout.
type Coordinator struct {
	client  *Client
	group   singleflight.Group
	breaker *breaker
}

// NewCoordinator wraps client with single-flight call de-duplication.
func NewCoordinator(client *Client) *Coordinator {
	return &Coordinator{client: client, breaker: newBreaker()}
}

type lookupResult struct {
	record Record
	rate   RateLimit
}

// Lookup behaves like Client.Lookup, except concurrent callers for the
// same ip share one in-flight upstream request, and calls are rejected
// outright while the breaker is open.
func (co *Coordinator) Lookup(ctx context.Context, ip string) (Record, RateLimit, error) {
	if !co.breaker.allow() {
		return Record{StatusCode: syntheticTransportErrorCode, LastUpdated: time.Now()}, RateLimit{}, nil
	}

	v, err, _ := co.group.Do(ip, func() (any, error) {
		record, rate, err := co.client.Lookup(ctx, ip)
		if err != nil {
			return nil, err
		}
		return lookupResult{record: record, rate: rate}, nil
	})
	if err != nil {
		co.breaker.recordFailure()
		return Record{}, RateLimit{}, err
	}

	res := v.(lookupResult)
	if res.record.Successful() {
		co.breaker.recordSuccess()
	} else {
		co.breaker.recordFailure()
	}
	return res.record, res.rate, nil
}

// UpstreamState reports the breaker's current state label, for health
// reporting.
func (co *Coordinator) UpstreamState() string {
	return co.breaker.stateLabel()
}

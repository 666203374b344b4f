package filter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/edgeguard/internal/badip"
	"github.com/nulpointcorp/edgeguard/internal/config"
	"github.com/nulpointcorp/edgeguard/internal/enrichment"
)

// fakeLookuper is a test double for the enrichment lookup step; fn is
// invoked for every call, nil means "must not be called".
type fakeLookuper struct {
	fn    func(ctx context.Context, ip string) (enrichment.Record, enrichment.RateLimit, error)
	calls int
}

func (f *fakeLookuper) Lookup(ctx context.Context, ip string) (enrichment.Record, enrichment.RateLimit, error) {
	f.calls++
	if f.fn == nil {
		panic("lookup should not have been called")
	}
	return f.fn(ctx, ip)
}

func newCtx(ip, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	req := &fasthttp.Request{}
	req.SetRequestURI(path)
	ctx.Init(req, &net.TCPAddr{IP: net.ParseIP(ip), Port: 12345}, nil)
	return ctx
}

func baseConfig() *config.Config {
	return &config.Config{
		LogLevel:          "info",
		BlockIP:           map[string]struct{}{},
		BlockContinent:    map[string]struct{}{},
		BlockCountry:      map[string]struct{}{},
		BlockASN:          map[int]struct{}{},
		BlockRDNSHostname: map[string]struct{}{},
		AllowHosting:      true,
		AllowProxy:        true,
		ExceptionIP:       map[string]struct{}{},
		ExceptionPath:     map[string]struct{}{},
		Response: config.ResponseMapping{
			IP:           testSpec(),
			Continent:    testSpec(),
			Country:      testSpec(),
			ASN:          testSpec(),
			RDNSHostname: testSpec(),
			BadIP:        testSpec(),
			Hosting:      testSpec(),
			Proxy:        testSpec(),
		},
		Cache: config.CacheConfig{
			Size:                   16,
			InvalidateSuccessAfter: time.Hour,
			InvalidateErrorAfter:   time.Hour,
		},
	}
}

func testSpec() config.ResponseSpec {
	return config.ResponseSpec{
		Body:       `{"detail":"Forbidden"}`,
		StatusCode: fasthttp.StatusForbidden,
		ReturnAs:   config.ReturnJSON,
		RawJSON:    []byte(`{"detail":"Forbidden"}`),
	}
}

func newFilter(t *testing.T, cfg *config.Config, lookup lookuper, downstreamCalled *bool) *Filter {
	t.Helper()
	cache, err := enrichment.NewCache(cfg.Cache.Size)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	downstream := func(ctx *fasthttp.RequestCtx) {
		*downstreamCalled = true
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
	return New(downstream, cfg, lookup, cache, &badip.Lists{}, nil, nil)
}

func TestServeBlockIPShortCircuitsRegardlessOfException(t *testing.T) {
	cfg := baseConfig()
	cfg.BlockIP["9.9.9.9"] = struct{}{}
	cfg.ExceptionIP["9.9.9.9"] = struct{}{}

	called := false
	f := newFilter(t, cfg, &fakeLookuper{}, &called)

	ctx := newCtx("9.9.9.9", "/anything")
	f.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
	if called {
		t.Fatal("downstream should not have been invoked")
	}
}

func TestServePrivateIPReturns503(t *testing.T) {
	cfg := baseConfig()
	called := false
	f := newFilter(t, cfg, &fakeLookuper{}, &called)

	ctx := newCtx("10.0.0.5", "/")
	f.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", ctx.Response.StatusCode())
	}
	if called {
		t.Fatal("downstream should not have been invoked")
	}
}

func TestServeCacheHitSkipsUpstream(t *testing.T) {
	cfg := baseConfig()
	called := false
	lookup := &fakeLookuper{}
	f := newFilter(t, cfg, lookup, &called)

	f.cache.Put("8.8.8.8", enrichment.Record{
		StatusCode:     200,
		UpstreamStatus: enrichment.UpstreamStatusSuccess,
		Continent:      "NA",
		Country:        "US",
		LastUpdated:    time.Now(),
	})

	ctx := newCtx("8.8.8.8", "/ok")
	f.serve(ctx)

	if lookup.calls != 0 {
		t.Fatalf("expected 0 upstream calls, got %d", lookup.calls)
	}
	if !called {
		t.Fatal("downstream should have been invoked for an allowed request")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestServeRateLimitExhaustedReturns503WithRetryAfter(t *testing.T) {
	cfg := baseConfig()
	called := false
	lookup := &fakeLookuper{}
	f := newFilter(t, cfg, lookup, &called)
	f.resetAt.Store(time.Now().Add(30 * time.Second).Unix())

	ctx := newCtx("8.8.4.4", "/")
	f.serve(ctx)

	if lookup.calls != 0 {
		t.Fatalf("expected no upstream call while rate-limited, got %d", lookup.calls)
	}
	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Header.Peek("Retry-After")) == "" {
		t.Fatal("expected a Retry-After header")
	}
}

func TestServeFreshUpstreamSuccessForwards(t *testing.T) {
	cfg := baseConfig()
	called := false
	lookup := &fakeLookuper{fn: func(ctx context.Context, ip string) (enrichment.Record, enrichment.RateLimit, error) {
		return enrichment.Record{
			StatusCode:     200,
			UpstreamStatus: enrichment.UpstreamStatusSuccess,
			Continent:      "NA",
			Country:        "US",
			LastUpdated:    time.Now(),
		}, enrichment.RateLimit{}, nil
	}}
	f := newFilter(t, cfg, lookup, &called)

	ctx := newCtx("1.2.3.4", "/")
	f.serve(ctx)

	if lookup.calls != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", lookup.calls)
	}
	if !called {
		t.Fatal("downstream should have been invoked")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestServeFreshUpstreamDeniesByCountry(t *testing.T) {
	cfg := baseConfig()
	cfg.BlockCountry["RU"] = struct{}{}
	called := false
	lookup := &fakeLookuper{fn: func(ctx context.Context, ip string) (enrichment.Record, enrichment.RateLimit, error) {
		return enrichment.Record{
			StatusCode:     200,
			UpstreamStatus: enrichment.UpstreamStatusSuccess,
			Continent:      "AS",
			Country:        "RU",
			LastUpdated:    time.Now(),
		}, enrichment.RateLimit{}, nil
	}}
	f := newFilter(t, cfg, lookup, &called)

	ctx := newCtx("1.2.3.4", "/")
	f.serve(ctx)

	if called {
		t.Fatal("downstream should not have been invoked")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
}

func TestServeCachedNonActionableForces503OnReplayWithoutRefetch(t *testing.T) {
	cfg := baseConfig()
	called := false
	lookup := &fakeLookuper{}
	f := newFilter(t, cfg, lookup, &called)

	f.cache.Put("1.2.3.4", enrichment.Record{
		StatusCode:     200,
		UpstreamStatus: enrichment.UpstreamStatusFail,
		LastUpdated:    time.Now(),
	})

	ctx := newCtx("1.2.3.4", "/")
	f.serve(ctx)

	if lookup.calls != 0 {
		t.Fatalf("expected no upstream call for a cached non-actionable record, got %d", lookup.calls)
	}
	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", ctx.Response.StatusCode())
	}
	if called {
		t.Fatal("downstream should not have been invoked")
	}
}

func TestServeUpstreamTransportFailureReturns503(t *testing.T) {
	cfg := baseConfig()
	called := false
	lookup := &fakeLookuper{fn: func(ctx context.Context, ip string) (enrichment.Record, enrichment.RateLimit, error) {
		return enrichment.Record{StatusCode: 0, LastUpdated: time.Now()}, enrichment.RateLimit{}, nil
	}}
	f := newFilter(t, cfg, lookup, &called)

	ctx := newCtx("1.2.3.4", "/")
	f.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", ctx.Response.StatusCode())
	}
	if called {
		t.Fatal("downstream should not have been invoked")
	}
}

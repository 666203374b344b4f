// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initBadIPLists: fetch the configured inbound/outbound blocklists
//  2. initEnrichment: geo-IP client, cache, singleflight coordinator
//  3. initFilter: Filter + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/edgeguard/internal/badip"
	"github.com/nulpointcorp/edgeguard/internal/config"
	"github.com/nulpointcorp/edgeguard/internal/enrichment"
	"github.com/nulpointcorp/edgeguard/internal/filter"
	"github.com/nulpointcorp/edgeguard/internal/metrics"
	"github.com/valyala/fasthttp"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version    string
	cfg        *config.Config
	baseCtx    context.Context
	log        *slog.Logger
	downstream fasthttp.RequestHandler

	badLists    *badip.Lists
	enrichCache *enrichment.Cache
	coordinator *enrichment.Coordinator

	prom *metrics.Registry
	mgmt *filter.ManagementRoutes
	flt  *filter.Filter
}

// New initialises all subsystems and returns a ready-to-run App. downstream
// is the protected application the Filter forwards allowed requests to.
func New(ctx context.Context, cfg *config.Config, downstream fasthttp.RequestHandler, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log, downstream: downstream}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"bad_ip_lists", a.initBadIPLists},
		{"enrichment", a.initEnrichment},
		{"filter", a.initFilter},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr

	a.log.Info("starting edgeguard",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("cache_size", a.cfg.Cache.Size),
		slog.Bool("block_inbound_bad_ip", a.cfg.BlockInboundBadIP),
		slog.Bool("block_outbound_bad_ip", a.cfg.BlockOutboundBadIP),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.flt.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources. Safe to call multiple times.
func (a *App) Close() {
	// No pooled connections to release: the enrichment client uses a
	// stdlib http.Client and the LRU cache lives entirely in memory.
}

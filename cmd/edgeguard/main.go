// Command edgeguard runs the IP-reputation request filter as a
// standalone HTTP server in front of a configured backend.
//
// Quick-start (filter-only smoke test, no backend configured):
//
//	EDGEGUARD_CONFIG=config.toml ./edgeguard
//
// See config.example.toml for the full set of block/exception lists,
// response mappings, and cache settings.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/edgeguard/internal/app"
	"github.com/nulpointcorp/edgeguard/internal/backend"
	"github.com/nulpointcorp/edgeguard/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("EDGEGUARD_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := os.Getenv("EDGEGUARD_LOG_LEVEL")
	if level == "" {
		level = cfg.LogLevel
	}
	logger := buildLogger(level)
	slog.SetDefault(logger)

	downstream := backend.New(cfg.Server.BackendAddr, logger)

	a, err := app.New(ctx, cfg, downstream, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("edgeguard stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}

// Package app provides the top-level application lifecycle management for the
// paper-trading engine. It wires together all dependencies (stores, caches,
// blob storage, price sources, notifications and tracing) and starts the
// goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/config"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/telemetry"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, version string) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		version: version,
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. Close runs the registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("store", a.cfg.Store.Driver),
		slog.String("price_source", a.cfg.Price.Source),
	)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     a.cfg.Telemetry.TracingEnabled,
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     a.version,
	})
	if err != nil {
		return fmt.Errorf("app: telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("app: tracer shutdown failed", slog.String("error", err.Error()))
		}
	})

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "feed":
		return a.FeedMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

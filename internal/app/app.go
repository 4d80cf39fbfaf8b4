// Package app provides the top-level application lifecycle management for the
// chain monitor. It wires together all dependencies (endpoint pool, decoder,
// stores, notification bus, blob storage) and runs the scan loop plus any
// background workers until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polymonitor/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the scan
// loop and the optional archive loop, and blocks until the context is
// cancelled or the scanner gives up. On return the caller should Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting monitor",
		slog.Int("accounts", len(a.cfg.Monitor.Accounts)),
		slog.Int("endpoints", len(a.cfg.Chain.Endpoints)),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scanner.Run(ctx)
	})

	if deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			return deps.Archiver.RunLoop(ctx, interval)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down monitor")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Package app provides the top-level lifecycle of an IOU ledger node. It wires
// identity, vault, caches, archive storage and notifications, and starts the
// goroutines for the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/iouledger/internal/config"
)

// App owns the configuration, the logger and the cleanup functions of one
// run. Cleanups run in reverse order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App for cfg.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// modes maps each operating mode to its runner.
func (a *App) modes() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"node":    a.runNode,
		"sandbox": a.SandboxMode,
		"keygen":  a.KeygenMode,
	}
}

// Run executes the configured mode and blocks until it finishes or ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := a.modes()[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	return run(ctx)
}

func (a *App) runNode(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return a.NodeMode(ctx, deps)
}

// Close runs the registered cleanups, newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

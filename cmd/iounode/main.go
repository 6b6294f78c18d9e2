// Command iounode runs one participant of the IOU ledger network: a party,
// the notary, the in-process sandbox or the key generator, as configured.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/iouledger/internal/app"
	"github.com/alanyoungcy/iouledger/internal/config"
)

func main() {
	configPath := flag.String("config", "iounode.toml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Info("iou node starting",
		slog.String("mode", cfg.Mode),
		slog.String("node", cfg.Node.Name),
		slog.String("config", configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	switch err := application.Run(ctx); {
	case errors.Is(err, context.Canceled):
		logger.Info("application shut down gracefully")
	case err != nil:
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	default:
		logger.Info("iou node stopped")
	}
	return nil
}

// newLogger builds the JSON logger. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Command gatewayd runs the gateway process: it loads configuration, opens
// the durable store, wires every subsystem via gatewaysvc.Server, and
// serves the gRPC and HTTP admin listeners until an interrupt or terminate
// signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentfabric/gateway/internal/config"
	"github.com/agentfabric/gateway/internal/gatewaysvc"
	"github.com/agentfabric/gateway/internal/storage"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to gateway.yaml (defaults built in if omitted)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gatewayd %s (commit %s)\n", version, commit)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gatewayd exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStores(cfg *config.Config) (storage.StoreSet, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		return storage.Open(cfg.Storage.DSN)
	case "postgres":
		return storage.OpenPostgres(cfg.Storage.DSN, nil)
	default:
		return storage.StoreSet{}, fmt.Errorf("gatewayd: unknown storage driver %q", cfg.Storage.Driver)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	srv := gatewaysvc.New(cfg, stores, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

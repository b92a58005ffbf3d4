// Command voicewire-gateway serves the conversation flow gateway: session
// start, websocket sessions, health, and metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voicewire/voicewire/pkg/gateway/config"
	"github.com/voicewire/voicewire/pkg/gateway/flow"
	"github.com/voicewire/voicewire/pkg/gateway/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voicewire-gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	catalog, err := flow.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog %s: %w", cfg.CatalogPath, err)
	}
	logger.Info("catalog loaded", "path", cfg.CatalogPath, "topics", len(catalog.Topics))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, catalog, logger).Run(ctx)
}

func logLevel() slog.Level {
	switch os.Getenv("VOICEWIRE_LOG_LEVEL") {
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

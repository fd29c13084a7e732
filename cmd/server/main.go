package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/catalog-service/internal/app"
	"github.com/utafrali/catalog-service/internal/config"
	"github.com/utafrali/catalog-service/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return 2
	}

	log := logger.New(logger.Options{
		Service: cfg.ServiceName,
		Version: cfg.ServiceVersion,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting catalog service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("search_engine", cfg.SearchEngine),
		slog.String("event_broker", cfg.EventBroker),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		return 1
	}
	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		return 1
	}

	log.Info("catalog service stopped")
	return 0
}

// Package main provides the HTTP gateway for fixhow.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fixhow/fixhow/internal/config"
	"github.com/fixhow/fixhow/internal/server"
	"github.com/fixhow/fixhow/internal/service"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadWithFile(os.Getenv("FIXHOW_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer func() {
		_ = cleanup()
	}()

	slog.Info("starting fixhow-server",
		"version", Version,
		"port", cfg.Port,
		"index", cfg.IndexBackend,
		"sessions", cfg.SessionBackend,
	)

	buildCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	bot, err := service.Build(buildCtx, cfg, nil)
	cancel()
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bot.Close(context.Background()); err != nil {
			slog.Error("failed to close pipeline", "error", err)
		}
	}()

	srv := server.New(bot, logger, server.Config{
		Port:           cfg.Port,
		Version:        Version,
		RequestTimeout: cfg.RequestTimeout,
		SessionTTL:     cfg.SessionTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("fixhow-server stopped")
}

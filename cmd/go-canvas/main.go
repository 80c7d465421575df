package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/a-essam23/go-canvas/internal/server"
	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/config"
	"github.com/a-essam23/go-canvas/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.Parse(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, auth.GuestDirectory{})
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

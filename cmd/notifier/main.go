// Package main provides the notifier entry point: it keeps the signed-in
// user's library notifications in sync and serves them to the local display.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lllypuk/libranotify/internal/config"
)

const version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Debug("no .env file loaded", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg)

	logger.Info("starting libranotify",
		slog.String("version", version),
		slog.String("app", cfg.App.Name),
		slog.String("api_base_url", cfg.API.BaseURL),
		slog.Bool("push_enabled", cfg.Push.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runErr := run(ctx, cfg, logger); runErr != nil {
		logger.Error("notifier stopped with error", slog.String("error", runErr.Error()))
		os.Exit(1) //nolint:gocritic // stop only releases the signal handler
	}
}

// run builds the container, starts it and serves the display API until ctx
// is cancelled. It always closes the container before returning.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	container, err := NewContainer(cfg, WithLogger(logger))
	if err != nil {
		return err
	}

	// Background services stop through their own context so that shutdown
	// can drain HTTP first.
	serviceCtx, cancelServices := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelServices()

	if startErr := container.Start(serviceCtx); startErr != nil {
		_ = container.Close()
		return startErr
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- container.Server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
		}
	}

	gracefulShutdown(container, cancelServices, logger)
	return err
}

// gracefulShutdown stops accepting requests, then stops background services
// and releases the container.
func gracefulShutdown(container *Container, cancelServices context.CancelFunc, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), container.Config.Server.ShutdownTimeout)
	defer cancel()

	logger.InfoContext(shutdownCtx, "shutting down server...")

	// 1. Stop accepting new connections
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "server shutdown error", slog.String("error", err.Error()))
	} else {
		logger.InfoContext(shutdownCtx, "HTTP server stopped")
	}

	// 2. Stop the coordinator, push channel and stream hub
	cancelServices()

	// 3. Close container resources
	if err := container.Close(); err != nil {
		logger.ErrorContext(shutdownCtx, "container close error", slog.String("error", err.Error()))
	}

	logger.InfoContext(shutdownCtx, "shutdown complete")
}

// setupLogger creates and configures the structured logger based on configuration.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Log.Level),
		AddSource: cfg.IsDevelopment(),
	}

	switch cfg.Log.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default: // "json" or any other value defaults to JSON
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package main is the entry point for the LinkedIn profile viewer.
//
// main only reads configuration, builds the logger and starts the server;
// everything else lives under internal/.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sakif/linkedin-profile-viewer/internal/config"
	"github.com/sakif/linkedin-profile-viewer/internal/server"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		// The logger is not configured yet.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.RedirectURIDefaulted {
		logger.Warn("LINKEDIN_REDIRECT_URI not set, using the default derived from BASE_URL",
			slog.String("redirect_uri", cfg.LinkedIn.RedirectURI),
		)
	}
	logger.Info("configuration loaded", slog.Any("config", cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger builds a JSON logger, or a colourised console logger when
// LOG_FORMAT=text.
func newLogger(cfg config.Config) *slog.Logger {
	if cfg.LogFormat == "text" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.SlogLevel(),
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

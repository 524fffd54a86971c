// ConvoDock - Chatbot platform billing and subscription recovery
package main

import (
	"context"
	"os"

	"github.com/convodock/convodock/internal/config"
	"github.com/convodock/convodock/internal/logging"
	"github.com/convodock/convodock/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting convodock",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"retry_days", cfg.DunningRetryDays,
		"max_retries", cfg.DunningMaxRetries,
		"auto_cancel", cfg.DunningAutoCancel,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aihpi/workshop-video-search/internal/application"
	"github.com/aihpi/workshop-video-search/internal/config"
	"github.com/aihpi/workshop-video-search/internal/index"
)

func main() {
	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(startupCtx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := application.SetupLogger(conf.LogLevel)
	logger.Info("Starting index migrator")

	if conf.IndexBackend != "postgres" {
		logger.Info("INDEX_BACKEND is not postgres; the sqlite index migrates itself on startup", "backend", conf.IndexBackend)
		return
	}

	// Connect to database with retry logic
	pool, err := application.OpenDBPoolWithRetry(startupCtx, *conf)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database pool connection established")

	if err := index.MigratePostgres(startupCtx, pool, logger); err != nil {
		logger.Error("failed to run PostgreSQL migrations", "error", err)
		pool.Close()
		os.Exit(1)
	}

	logger.Info("Database migrations completed successfully")
}

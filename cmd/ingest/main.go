package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/visitscribe/internal/config"
	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/repository"
	"github.com/timmy/visitscribe/internal/service"
	"github.com/timmy/visitscribe/internal/source/staging"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "visitscribe-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	sourceID := flag.String("source", "", "Staging source to ingest (subdirectory holding manifest.jsonl)")
	stagingDir := flag.String("staging-dir", "./data/staging", "Base staging directory")
	limit := flag.Int("limit", 0, "Maximum number of recordings to enqueue (0 = all)")
	force := flag.Bool("force", false, "Enqueue even when a job with the same cache_id exists")
	list := flag.Bool("list", false, "List available staging sources and exit")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *list {
		sources, err := staging.ListStagingSources(*stagingDir)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list staging sources")
		}
		appLogger.WithField("sources", sources).Info("Available staging sources")
		return
	}
	if *sourceID == "" {
		appLogger.Fatal("-source is required")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"source": *sourceID,
		"limit":  *limit,
		"force":  *force,
	}).Info("Starting ingestion")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	ingestService := service.NewIngestService(
		repository.NewJobRepository(db),
		repository.NewVisitRepository(db),
		&service.IngestConfig{},
	)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = appLogger.WithContext(ctx)

	stats, err := ingestService.IngestFromSource(ctx, staging.NewAdapter(*stagingDir, *sourceID), *limit, &service.IngestOptions{
		Force: *force,
	})
	if err != nil {
		appLogger.WithError(err).Error("Failed to ingest from source")
		os.Exit(1)
	}
	appLogger.WithFields(logger.Fields{
		"total":    stats.TotalItems,
		"enqueued": stats.EnqueuedItems,
		"skipped":  stats.SkippedItems,
		"failed":   stats.FailedItems,
	}).Info("Ingestion completed")
}

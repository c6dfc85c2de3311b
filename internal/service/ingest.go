package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/source"
)

const defaultIngestBatchSize = 50

// RecordingQueue is the part of the job queue used by ingestion.
type RecordingQueue interface {
	Enqueue(ctx context.Context, visitID, path string, cacheID *string) (*domain.Job, error)
	ExistsByCacheID(ctx context.Context, cacheID string) (bool, error)
}

// VisitUpserter records the visits recordings belong to.
type VisitUpserter interface {
	Upsert(ctx context.Context, visit *domain.Visit) error
}

// IngestService enqueues transcription jobs for recordings from a source.
// Items are enqueued one at a time so queue order follows source order.
type IngestService struct {
	jobs      RecordingQueue
	visits    VisitUpserter
	batchSize int
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	BatchSize int
}

// NewIngestService creates a new ingest service. visits may be nil.
func NewIngestService(jobs RecordingQueue, visits VisitUpserter, cfg *IngestConfig) *IngestService {
	batchSize := defaultIngestBatchSize
	if cfg != nil && cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}
	return &IngestService{jobs: jobs, visits: visits, batchSize: batchSize}
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems    int64
	EnqueuedItems int64
	SkippedItems  int64
	FailedItems   int64
	JobIDs        []string
	StartTime     time.Time
	EndTime       time.Time
}

// IngestOptions holds options for ingestion
type IngestOptions struct {
	Force bool // If true, enqueue even when a job with the same cache ID exists
}

// IngestFromSource enqueues up to limit recordings from src.
// Parameters:
//   - ctx: context for cancellation; ingestion stops between items when it ends.
//   - src: recording source.
//   - limit: maximum number of items to read; <= 0 reads everything.
//   - opts: ingestion options; nil uses defaults.
//
// Returns:
//   - *IngestStats: counts for the run.
//   - error: non-nil if the source could not be read.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}
	ctx = logger.WithField(ctx, "source", src.GetSourceID())

	stats := &IngestStats{StartTime: time.Now()}
	logger.With(logger.Fields{
		"limit": limit,
		"force": opts.Force,
	}).Info(ctx, "Starting ingestion from %s", src.GetDisplayName())

	cursor := ""
	for ctx.Err() == nil {
		batchLimit := s.batchSize
		if limit > 0 {
			remaining := limit - int(stats.TotalItems)
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			stats.EndTime = time.Now()
			return stats, fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(items) == 0 {
			break
		}

		for i := range items {
			if ctx.Err() != nil {
				break
			}
			stats.TotalItems++
			s.ingestItem(ctx, &items[i], opts, stats)
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	stats.EndTime = time.Now()
	logger.With(logger.Fields{
		"total":    stats.TotalItems,
		"enqueued": stats.EnqueuedItems,
		"skipped":  stats.SkippedItems,
		"failed":   stats.FailedItems,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).
		Info(ctx, "Ingestion completed")
	return stats, nil
}

func (s *IngestService) ingestItem(ctx context.Context, item *source.RecordingItem, opts *IngestOptions, stats *IngestStats) {
	ctx = logger.WithFields(ctx, logger.Fields{
		"source_id":         item.SourceID,
		logger.FieldVisitID: item.VisitID,
	})

	if !opts.Force && item.CacheID != nil && *item.CacheID != "" {
		exists, err := s.jobs.ExistsByCacheID(ctx, *item.CacheID)
		if err != nil {
			stats.FailedItems++
			logger.CtxError(ctx, "Failed to check cache ID: %v", err)
			return
		}
		if exists {
			stats.SkippedItems++
			logger.CtxDebug(ctx, "Skipping recording already enqueued: cache_id=%s", *item.CacheID)
			return
		}
	}

	if s.visits != nil && item.PatientID != "" {
		visit := &domain.Visit{
			ID:          item.VisitID,
			PatientID:   item.PatientID,
			ClinicianID: item.ClinicianID,
			ScheduledAt: item.ScheduledAt,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.visits.Upsert(ctx, visit); err != nil {
			stats.FailedItems++
			logger.CtxError(ctx, "Failed to upsert visit: %v", err)
			return
		}
	}

	job, err := s.jobs.Enqueue(ctx, item.VisitID, item.Path, item.CacheID)
	if err != nil {
		stats.FailedItems++
		logger.CtxError(ctx, "Failed to enqueue recording: %v", err)
		return
	}
	stats.EnqueuedItems++
	stats.JobIDs = append(stats.JobIDs, job.ID)
}

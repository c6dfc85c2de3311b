package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/logger"
)

// JobQueue is the queue surface the worker needs.
type JobQueue interface {
	ClaimNext(ctx context.Context, workerID string) (*domain.Job, error)
	ClaimByID(ctx context.Context, id, workerID string) (*domain.Job, error)
	Complete(ctx context.Context, job *domain.Job, result *domain.JobResult) error
	Fail(ctx context.Context, job *domain.Job, message string) error
}

// Processor runs one claimed job.
type Processor interface {
	Run(ctx context.Context, job *domain.Job, opts RunOptions) (*domain.JobResult, error)
}

// WorkerConfig holds worker loop settings.
type WorkerConfig struct {
	ID           string
	Interval     time.Duration
	ErrorBackoff time.Duration
	Simulate     bool
}

// Worker claims jobs from the queue and drives them through the processor.
type Worker struct {
	queue     JobQueue
	processor Processor
	cfg       WorkerConfig
}

// DefaultWorkerID returns "<hostname>-<pid>-<random>".
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

// NewWorker creates a new Worker.
// Parameters:
//   - queue: job queue.
//   - processor: pipeline that runs claimed jobs.
//   - cfg: loop settings; zero values get defaults.
//
// Returns:
//   - *Worker: worker instance.
func NewWorker(queue JobQueue, processor Processor, cfg WorkerConfig) *Worker {
	if cfg.ID == "" {
		cfg.ID = DefaultWorkerID()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * cfg.Interval
	}
	return &Worker{queue: queue, processor: processor, cfg: cfg}
}

// ID returns the identifier recorded on claims.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// RunOnce claims at most one job and processes it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - bool: true if a job was claimed.
//   - error: non-nil only for queue access errors.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	ctx = logger.WithField(ctx, logger.FieldWorkerID, w.cfg.ID)

	job, err := w.queue.ClaimNext(ctx, w.cfg.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.execute(ctx, job, w.cfg.Simulate)
	return true, nil
}

// Run polls the queue until ctx is cancelled. Pipeline errors fail the job;
// queue errors are logged and retried after the error backoff.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithField(ctx, logger.FieldWorkerID, w.cfg.ID)
	logger.With(logger.Fields{
		"interval_ms": w.cfg.Interval.Milliseconds(),
		"simulate":    w.cfg.Simulate,
	}).Info(ctx, "Worker loop started")

	for {
		if ctx.Err() != nil {
			logger.CtxInfo(ctx, "Worker loop stopped")
			return nil
		}

		processed, err := w.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			logger.CtxError(ctx, "Queue access failed, backing off %s: %v", w.cfg.ErrorBackoff, err)
			sleepContext(ctx, w.cfg.ErrorBackoff)
		case !processed:
			sleepContext(ctx, w.cfg.Interval)
		}
	}
}

// ProcessJob claims the given job and runs it immediately.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to process.
//   - simulate: run the pipeline against fixtures.
//
// Returns:
//   - *domain.Job: the job after completion or failure.
//   - *domain.JobResult: result on success.
//   - error: claim errors, or the pipeline error that failed the job.
func (w *Worker) ProcessJob(ctx context.Context, jobID string, simulate bool) (*domain.Job, *domain.JobResult, error) {
	ctx = logger.WithField(ctx, logger.FieldWorkerID, w.cfg.ID)

	job, err := w.queue.ClaimByID(ctx, jobID, w.cfg.ID)
	if err != nil {
		return nil, nil, err
	}
	result, err := w.execute(ctx, job, simulate)
	return job, result, err
}

func (w *Worker) execute(ctx context.Context, job *domain.Job, simulate bool) (*domain.JobResult, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldVisitID: job.VisitID,
	})
	startedAt := time.Now()
	logger.CtxInfo(ctx, "Job claimed: attempt=%d", job.Attempts)

	result, runErr := w.safeRun(ctx, job, RunOptions{Simulate: simulate})

	// Finish the job even if shutdown started while it ran.
	finishCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		if ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
			logger.CtxWarn(ctx, "Job interrupted by shutdown, leaving it for lease expiry: %v", runErr)
			return nil, runErr
		}
		if err := w.queue.Fail(finishCtx, job, runErr.Error()); err != nil {
			logger.CtxError(ctx, "Failed to mark job failed: %v", err)
		}
		logger.With(logger.Fields{"attempt": job.Attempts}).WithStatus(string(domain.JobStatusFailed)).
			WithDuration(time.Since(startedAt).Milliseconds()).
			Error(ctx, "Job failed: %v", runErr)
		return nil, runErr
	}

	if err := w.queue.Complete(finishCtx, job, result); err != nil {
		logger.CtxError(ctx, "Failed to mark job completed: %v", err)
		return result, nil
	}
	logger.With(logger.Fields{"attempt": job.Attempts}).WithStatus(string(domain.JobStatusCompleted)).
		WithDuration(time.Since(startedAt).Milliseconds()).
		Info(ctx, "Job completed")
	return result, nil
}

// safeRun converts a processor panic into an error.
func (w *Worker) safeRun(ctx context.Context, job *domain.Job, opts RunOptions) (result *domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Pipeline panic: %v\n%s", r, debug.Stack())
			result = nil
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return w.processor.Run(ctx, job, opts)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Package app wires configuration into the repositories, services and
// fallback machinery shared by the API server and the worker.
package app

import (
	"context"
	"fmt"

	"github.com/timmy/visitscribe/internal/config"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/repository"
	"github.com/timmy/visitscribe/internal/service"
	"github.com/timmy/visitscribe/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired components.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	Jobs        *repository.JobRepository
	Transcripts *repository.TranscriptRepository
	Ledger      *repository.VisitNoteRepository
	Visits      *repository.VisitRepository
	Audits      *repository.AuditRepository

	Fallback   *fallback.Writer
	Reconciler *fallback.Reconciler

	Notes          *service.NotesService
	TranscriptList *service.TranscriptService
	Pipeline       *service.Pipeline
}

// Options configure a worker created by NewWorker.
type Options struct {
	// WorkerID overrides the generated worker identity.
	WorkerID string
	// Simulate makes the worker run the pipeline against fixtures.
	Simulate bool
}

// Build opens the database and wires every component from cfg.
// Parameters:
//   - ctx: context used for startup logging.
//   - cfg: validated configuration.
// Returns:
//   - *App: wired components; call Close when done.
//   - error: database, fallback directory, or storage initialization failure.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	writer, err := fallback.NewWriter(cfg.Fallback.Dir, fallback.WithPermanentErrors(domain.ErrNoteSigned))
	if err != nil {
		closeDB(db)
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Jobs: repository.NewJobRepository(db,
			repository.WithLeaseDuration(cfg.Worker.LeaseDuration),
			repository.WithClaimAttempts(cfg.Worker.ClaimAttempts),
		),
		Transcripts: repository.NewTranscriptRepository(db),
		Ledger:      repository.NewVisitNoteRepository(db),
		Visits:      repository.NewVisitRepository(db),
		Audits:      repository.NewAuditRepository(db),
		Fallback:    writer,
		Reconciler:  fallback.NewReconciler(writer),
	}
	service.RegisterReplayers(a.Reconciler, a.Transcripts, a.Ledger)

	a.Notes = service.NewNotesService(a.Ledger, a.Audits)
	a.TranscriptList = service.NewTranscriptService(a.Transcripts, a.Visits, a.Audits, writer)

	deps := service.PipelineDeps{
		ASR: service.NewTranscriptionClient(&service.TranscriptionConfig{
			BaseURL:  cfg.ASR.BaseURL,
			Model:    cfg.ASR.Model,
			APIKey:   cfg.ASR.APIKey,
			Language: cfg.ASR.Language,
			Timeout:  cfg.ASR.Timeout,
		}),
		Parser: service.NewClinicalParser(&service.ClinicalParserConfig{
			BaseURL: cfg.Parser.BaseURL,
			Model:   cfg.Parser.Model,
			APIKey:  cfg.Parser.APIKey,
			Timeout: cfg.Parser.Timeout,
		}),
		Transcripts:  a.Transcripts,
		Notes:        a.Notes,
		Audit:        a.Audits,
		Fallback:     writer,
		SignedURLTTL: cfg.Storage.SignedURLTTL,
	}

	// A nil Storage interface sends the pipeline down the stub path.
	if cfg.Storage.Configured() {
		objectStorage, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			closeDB(db)
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		deps.Storage = objectStorage
		logger.CtxInfo(ctx, "Object storage configured: bucket=%s", objectStorage.Bucket())
	} else {
		logger.CtxWarn(ctx, "Object storage not configured, transcripts will use stub text")
	}
	if !cfg.ASR.Configured() {
		logger.CtxWarn(ctx, "ASR provider not configured, transcripts will use stub text")
	}
	if !cfg.Parser.Configured() {
		logger.CtxWarn(ctx, "Clinical parser not configured, structured fields will be skipped")
	}

	a.Pipeline = service.NewPipeline(deps)
	return a, nil
}

// NewWorker creates a worker over the job queue and pipeline.
func (a *App) NewWorker(opts Options) *service.Worker {
	return service.NewWorker(a.Jobs, a.Pipeline, service.WorkerConfig{
		ID:           opts.WorkerID,
		Interval:     a.Config.Worker.Interval(),
		ErrorBackoff: a.Config.Worker.ErrorBackoff(),
		Simulate:     opts.Simulate,
	})
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

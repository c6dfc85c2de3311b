package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timmy/visitscribe/internal/config"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
	"github.com/timmy/visitscribe/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "visitscribe.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// testEnv is a pipeline wired to a real SQLite store and fallback directory.
type testEnv struct {
	db          *gorm.DB
	jobs        *repository.JobRepository
	transcripts *repository.TranscriptRepository
	ledger      *repository.VisitNoteRepository
	audits      *repository.AuditRepository
	visits      *repository.VisitRepository
	notes       *NotesService
	writer      *fallback.Writer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	writer, err := fallback.NewWriter(t.TempDir(), fallback.WithPermanentErrors(domain.ErrNoteSigned))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	env := &testEnv{
		db:          db,
		jobs:        repository.NewJobRepository(db),
		transcripts: repository.NewTranscriptRepository(db),
		ledger:      repository.NewVisitNoteRepository(db),
		audits:      repository.NewAuditRepository(db),
		visits:      repository.NewVisitRepository(db),
		writer:      writer,
	}
	env.notes = NewNotesService(env.ledger, env.audits)
	return env
}

func (e *testEnv) deps() PipelineDeps {
	return PipelineDeps{
		Transcripts: e.transcripts,
		Notes:       e.notes,
		Audit:       e.audits,
		Fallback:    e.writer,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type fakeStorage struct {
	url     string
	err     error
	missing bool
}

func (f *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	return !f.missing, nil
}

func (f *fakeStorage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + "/" + key, nil
}

func (f *fakeStorage) Bucket() string { return "test-bucket" }

type fakeASR struct {
	mu         sync.Mutex
	configured bool
	text       string
	err        error
	calls      int
	lastURL    string
}

func (f *fakeASR) Configured() bool { return f.configured }
func (f *fakeASR) Provider() string { return "fake-asr" }

func (f *fakeASR) Transcribe(ctx context.Context, signedURL string, simulate bool) (*TranscriptionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if simulate {
		return &TranscriptionOutput{Text: SimulatedTranscript, Provider: domain.ProviderSimulate}, nil
	}
	f.calls++
	f.lastURL = signedURL
	if f.err != nil {
		return nil, f.err
	}
	return &TranscriptionOutput{Text: f.text, Provider: "fake-asr"}, nil
}

type fakeParser struct {
	mu     sync.Mutex
	result *ParseResult
	err    error
	calls  int
}

func (f *fakeParser) Parse(ctx context.Context, transcript, visitID string, simulate bool) (*ParseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if simulate {
		fields := SimulatedClinicalFields()
		summary := fields.Summary
		return &ParseResult{Structured: fields, Summary: &summary}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
	"github.com/timmy/visitscribe/internal/logger"
	"github.com/timmy/visitscribe/internal/storage"
	"gorm.io/datatypes"
)

// Stage is a step of the transcription pipeline.
type Stage string

const (
	StageStarted          Stage = "started"
	StageAudioURLResolved Stage = "audio_url_resolved"
	StageTranscribed      Stage = "transcribed"
	StageParsed           Stage = "parsed"
	StagePersisted        Stage = "persisted"
	StageDone             Stage = "done"
)

// Transcriber converts audio behind a signed URL into text.
type Transcriber interface {
	Configured() bool
	Provider() string
	Transcribe(ctx context.Context, signedURL string, simulate bool) (*TranscriptionOutput, error)
}

// FieldParser extracts clinical fields from a transcript.
type FieldParser interface {
	Parse(ctx context.Context, transcript, visitID string, simulate bool) (*ParseResult, error)
}

// TranscriptStore is the primary transcript store.
type TranscriptStore interface {
	Create(ctx context.Context, t *domain.Transcript) error
}

// NoteAppender appends note entries for a visit.
type NoteAppender interface {
	EnsureWritable(ctx context.Context, visitID string) error
	AppendEntries(ctx context.Context, entries ...*domain.VisitNoteEntry) error
}

// AuditRecorder records audit events.
type AuditRecorder interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
}

// FallbackWriter persists records to the primary store or the local stream log.
type FallbackWriter interface {
	Write(ctx context.Context, stream fallback.Stream, insert func(ctx context.Context) error, records ...fallback.Record) (*fallback.Result, error)
}

// RunOptions controls one pipeline run.
type RunOptions struct {
	Simulate bool
}

// PipelineDeps wires the pipeline to its collaborators. Storage and ASR may be
// nil, in which case the pipeline produces a stub transcript.
type PipelineDeps struct {
	Storage      storage.ObjectStorage
	ASR          Transcriber
	Parser       FieldParser
	Transcripts  TranscriptStore
	Notes        NoteAppender
	Audit        AuditRecorder
	Fallback     FallbackWriter
	SignedURLTTL time.Duration
	Now          func() time.Time
}

// Pipeline turns a claimed job into a transcript and visit note entries.
type Pipeline struct {
	deps PipelineDeps
	now  func() time.Time
}

// NewPipeline creates a new Pipeline.
// Parameters:
//   - deps: collaborators; Transcripts, Notes and Fallback are required.
//
// Returns:
//   - *Pipeline: pipeline instance.
func NewPipeline(deps PipelineDeps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.SignedURLTTL <= 0 {
		deps.SignedURLTTL = 15 * time.Minute
	}
	return &Pipeline{deps: deps, now: now}
}

// transcription is the outcome of the audio stages.
type transcription struct {
	text     string
	provider string
	raw      json.RawMessage
	// parseable is true for provider output and the simulate fixture, never for stubs.
	parseable bool
}

// Run executes the pipeline for job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: a claimed job.
//   - opts: run options.
//
// Returns:
//   - *domain.JobResult: transcript and note entries written.
//   - error: job-fatal errors only; provider and primary-store failures degrade instead.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, opts RunOptions) (*domain.JobResult, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:     job.ID,
		logger.FieldVisitID:   job.VisitID,
		logger.FieldComponent: "pipeline",
	})
	startedAt := time.Now()
	p.stage(ctx, StageStarted)

	if strings.TrimSpace(job.VisitID) == "" || strings.TrimSpace(job.Path) == "" {
		return nil, fmt.Errorf("job %s has no visit or audio path", job.ID)
	}

	tr, err := p.transcribe(ctx, job, opts.Simulate)
	if err != nil {
		return nil, err
	}

	var parsed *ParseResult
	if tr.parseable && p.deps.Parser != nil {
		result, err := p.deps.Parser.Parse(ctx, tr.text, job.VisitID, opts.Simulate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("clinical parse interrupted: %w", ctxErr)
			}
			logger.CtxWarn(ctx, "Clinical parse failed, continuing without structured data: %v", err)
		} else {
			parsed = result
			p.stage(ctx, StageParsed)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("pipeline interrupted before persisting: %w", ctxErr)
	}

	now := p.now().UTC()
	transcript := &domain.Transcript{
		ID:        uuid.New().String(),
		VisitID:   job.VisitID,
		JobID:     job.ID,
		Provider:  tr.provider,
		Text:      tr.text,
		CreatedAt: now,
	}
	if len(tr.raw) > 0 {
		transcript.ProviderMetadata = datatypes.JSON(tr.raw)
	}

	if _, err := p.deps.Fallback.Write(ctx, fallback.StreamTranscripts, func(ctx context.Context) error {
		return p.deps.Transcripts.Create(ctx, transcript)
	}, transcript); err != nil {
		return nil, fmt.Errorf("failed to persist transcript: %w", err)
	}

	// The transcript is kept even when the note can no longer change.
	if err := p.deps.Notes.EnsureWritable(ctx, job.VisitID); err != nil {
		if errors.Is(err, domain.ErrNoteSigned) {
			return nil, fmt.Errorf("visit %s: %w", job.VisitID, err)
		}
		logger.CtxWarn(ctx, "Could not check note status, appending anyway: %v", err)
	}

	entries := buildEntries(job, transcript, parsed, now)
	records := make([]fallback.Record, len(entries))
	for i, e := range entries {
		records[i] = e
	}
	if _, err := p.deps.Fallback.Write(ctx, fallback.StreamVisitNotes, func(ctx context.Context) error {
		return p.deps.Notes.AppendEntries(ctx, entries...)
	}, records...); err != nil {
		return nil, fmt.Errorf("failed to persist note entries: %w", err)
	}
	p.stage(ctx, StagePersisted)

	p.recordAudit(ctx, job, transcript)

	result := &domain.JobResult{
		Transcript: *transcript,
		Notes:      make([]domain.VisitNoteEntry, len(entries)),
	}
	for i, e := range entries {
		result.Notes[i] = *e
	}
	if parsed != nil {
		result.Structured = parsed.Structured
		result.Summary = parsed.Summary
	}

	logger.With(logger.Fields{logger.FieldCount: len(entries)}).
		WithDuration(time.Since(startedAt).Milliseconds()).
		Info(ctx, "Pipeline stage reached: %s", StageDone)
	return result, nil
}

// transcribe runs the audio stages and returns some transcript text unless
// ctx is cancelled, in which case the cancellation error is returned.
func (p *Pipeline) transcribe(ctx context.Context, job *domain.Job, simulate bool) (transcription, error) {
	if simulate {
		if p.deps.ASR != nil {
			if out, err := p.deps.ASR.Transcribe(ctx, "", true); err == nil {
				p.stage(ctx, StageTranscribed)
				return transcription{text: out.Text, provider: domain.ProviderSimulate, parseable: true}, nil
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcription{}, fmt.Errorf("transcription interrupted: %w", ctxErr)
		}
		p.stage(ctx, StageTranscribed)
		return transcription{text: SimulatedTranscript, provider: domain.ProviderSimulate, parseable: true}, nil
	}

	if p.deps.ASR == nil || !p.deps.ASR.Configured() || p.deps.Storage == nil {
		logger.CtxInfo(ctx, "ASR or storage not configured, using stub transcript")
		return p.stub(ctx, job), nil
	}

	exists, err := p.deps.Storage.Exists(ctx, job.Path)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcription{}, fmt.Errorf("audio lookup interrupted: %w", ctxErr)
		}
		logger.CtxWarn(ctx, "Audio lookup failed, presigning anyway: %v", err)
	case !exists:
		logger.CtxWarn(ctx, "Audio object %s not found, using stub transcript", job.Path)
		return p.stub(ctx, job), nil
	}

	signedURL, err := p.deps.Storage.PresignGet(ctx, job.Path, p.deps.SignedURLTTL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcription{}, fmt.Errorf("signed URL creation interrupted: %w", ctxErr)
		}
		logger.CtxWarn(ctx, "Signed URL creation failed, using stub transcript: %v", err)
		return p.stub(ctx, job), nil
	}
	p.stage(ctx, StageAudioURLResolved)

	out, err := p.deps.ASR.Transcribe(ctx, signedURL, false)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcription{}, fmt.Errorf("transcription interrupted: %w", ctxErr)
		}
		logger.CtxWarn(ctx, "Transcription failed, using stub transcript: %v", err)
		return p.stub(ctx, job), nil
	}
	p.stage(ctx, StageTranscribed)

	provider := out.Provider
	if provider == "" {
		provider = p.deps.ASR.Provider()
	}
	return transcription{text: out.Text, provider: provider, raw: out.Raw, parseable: true}, nil
}

func (p *Pipeline) stub(ctx context.Context, job *domain.Job) transcription {
	p.stage(ctx, StageTranscribed)
	return transcription{
		text:     StubTranscript(job.Path, p.now()),
		provider: domain.ProviderLocalStub,
	}
}

// StubTranscript is the placeholder text recorded when no provider output is available.
func StubTranscript(path string, at time.Time) string {
	return fmt.Sprintf("STUB TRANSCRIPT for %s at %s", path, at.UTC().Format(time.RFC3339))
}

func (p *Pipeline) recordAudit(ctx context.Context, job *domain.Job, transcript *domain.Transcript) {
	if p.deps.Audit == nil {
		return
	}
	payload, err := json.Marshal(domain.TranscriptionAudit{
		TranscriptID: transcript.ID,
		Provider:     transcript.Provider,
		Text:         transcript.Text,
		Fallback:     transcript.Fallback,
	})
	if err != nil {
		logger.CtxWarn(ctx, "Failed to encode audit payload: %v", err)
		return
	}
	jobID := job.ID
	if err := p.deps.Audit.Create(ctx, &domain.AuditEvent{
		VisitID: job.VisitID,
		JobID:   &jobID,
		Action:  domain.AuditActionTranscriptionCompleted,
		Payload: datatypes.JSON(payload),
	}); err != nil {
		logger.CtxWarn(ctx, "Failed to record audit event: %v", err)
	}
}

func (p *Pipeline) stage(ctx context.Context, stage Stage) {
	logger.FromContext(ctx).WithField(logger.FieldStage, string(stage)).Infof("Pipeline stage reached: %s", stage)
}

// buildEntries derives the note entries for one run. Entries get
// strictly increasing timestamps so the note reads in construction order.
func buildEntries(job *domain.Job, transcript *domain.Transcript, parsed *ParseResult, now time.Time) []*domain.VisitNoteEntry {
	jobID := job.ID
	var entries []*domain.VisitNoteEntry
	add := func(section domain.Section, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		entries = append(entries, &domain.VisitNoteEntry{
			ID:        uuid.New().String(),
			VisitID:   job.VisitID,
			Section:   section,
			Content:   content,
			Source:    domain.EntrySourceTranscription,
			JobID:     &jobID,
			Timestamp: now.Add(time.Duration(len(entries)) * time.Microsecond),
		})
	}

	add(domain.SectionTranscript, transcript.Text)

	if parsed == nil {
		return entries
	}
	if parsed.Summary != nil {
		add(domain.SectionSummary, *parsed.Summary)
	}

	fields := parsed.Structured
	if fields == nil {
		return entries
	}

	var subjective []string
	subjective = append(subjective, fields.CurrentSymptoms.Lines()...)
	if history := fields.PastMedicalHistory.Lines(); len(history) > 0 {
		subjective = append(subjective, "Past medical history: "+strings.Join(history, "; "))
	}
	add(domain.SectionSubjective, strings.Join(subjective, "\n"))
	add(domain.SectionObjective, strings.Join(fields.PhysicalExamFindings.Lines(), "\n"))
	add(domain.SectionAssessment, strings.Join(fields.Diagnosis.Lines(), "\n"))
	add(domain.SectionPlan, strings.Join(fields.PlanLines(), "\n"))

	return entries
}

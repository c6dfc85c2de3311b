package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
	"github.com/timmy/visitscribe/internal/logger"
)

// Transcript listing sources, in lookup order.
const (
	TranscriptSourcePrimary  = "primary"
	TranscriptSourceFallback = "fallback"
	TranscriptSourceAudit    = "audit"
)

// TranscriptLister reads transcripts from the primary store.
type TranscriptLister interface {
	ListByVisits(ctx context.Context, visitIDs []string) ([]domain.Transcript, error)
}

// VisitLookup resolves a patient's visits.
type VisitLookup interface {
	ListIDsByPatient(ctx context.Context, patientID string) ([]string, error)
}

// AuditReader reads audit events.
type AuditReader interface {
	ListByVisits(ctx context.Context, action string, visitIDs []string) ([]domain.AuditEvent, error)
}

// FallbackReader reads envelopes from a fallback stream.
type FallbackReader interface {
	Read(stream fallback.Stream) ([]fallback.Envelope, error)
}

// TranscriptQuery selects transcripts by visit or by patient.
type TranscriptQuery struct {
	VisitID   string
	PatientID string
}

// TranscriptListing is the result of a transcript query.
type TranscriptListing struct {
	Source      string              `json:"source"`
	Transcripts []domain.Transcript `json:"transcripts"`
}

// TranscriptService lists transcripts, falling back to the local stream
// and then to audit history when the primary store has nothing.
type TranscriptService struct {
	transcripts TranscriptLister
	visits      VisitLookup
	audits      AuditReader
	fallback    FallbackReader
}

// NewTranscriptService creates a new TranscriptService.
func NewTranscriptService(transcripts TranscriptLister, visits VisitLookup, audits AuditReader, fb FallbackReader) *TranscriptService {
	return &TranscriptService{
		transcripts: transcripts,
		visits:      visits,
		audits:      audits,
		fallback:    fb,
	}
}

// List returns transcripts for the query.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: visit or patient selector; VisitID wins when both are set.
//
// Returns:
//   - *TranscriptListing: transcripts and the source they came from.
//   - error: ErrInvalidQuery, or a failure resolving patient visits.
func (s *TranscriptService) List(ctx context.Context, q TranscriptQuery) (*TranscriptListing, error) {
	visitIDs, err := s.resolveVisits(ctx, q)
	if err != nil {
		return nil, err
	}

	listing := &TranscriptListing{Source: TranscriptSourcePrimary, Transcripts: []domain.Transcript{}}
	if len(visitIDs) == 0 {
		return listing, nil
	}

	primary, err := s.transcripts.ListByVisits(ctx, visitIDs)
	if err != nil {
		logger.CtxWarn(ctx, "Primary transcript lookup failed, trying fallback: %v", err)
	} else if len(primary) > 0 {
		listing.Transcripts = primary
		return listing, nil
	}

	if local := s.fromFallback(ctx, visitIDs); len(local) > 0 {
		listing.Source = TranscriptSourceFallback
		listing.Transcripts = local
		return listing, nil
	}

	if audited := s.fromAudit(ctx, visitIDs); len(audited) > 0 {
		listing.Source = TranscriptSourceAudit
		listing.Transcripts = audited
	}
	return listing, nil
}

func (s *TranscriptService) resolveVisits(ctx context.Context, q TranscriptQuery) ([]string, error) {
	if visitID := strings.TrimSpace(q.VisitID); visitID != "" {
		return []string{visitID}, nil
	}
	patientID := strings.TrimSpace(q.PatientID)
	if patientID == "" {
		return nil, domain.ErrInvalidQuery
	}
	return s.visits.ListIDsByPatient(ctx, patientID)
}

func (s *TranscriptService) fromFallback(ctx context.Context, visitIDs []string) []domain.Transcript {
	if s.fallback == nil {
		return nil
	}
	envelopes, err := s.fallback.Read(fallback.StreamTranscripts)
	if err != nil {
		logger.CtxWarn(ctx, "Fallback transcript read failed: %v", err)
		return nil
	}

	wanted := toSet(visitIDs)
	var out []domain.Transcript
	for _, env := range envelopes {
		var t domain.Transcript
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			continue
		}
		if _, ok := wanted[t.VisitID]; !ok {
			continue
		}
		t.ID = env.ID
		t.Fallback = true
		out = append(out, t)
	}
	return out
}

func (s *TranscriptService) fromAudit(ctx context.Context, visitIDs []string) []domain.Transcript {
	if s.audits == nil {
		return nil
	}
	events, err := s.audits.ListByVisits(ctx, domain.AuditActionTranscriptionCompleted, visitIDs)
	if err != nil {
		logger.CtxWarn(ctx, "Audit transcript lookup failed: %v", err)
		return nil
	}

	var out []domain.Transcript
	for _, ev := range events {
		var payload domain.TranscriptionAudit
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Text == "" {
			continue
		}
		t := domain.Transcript{
			ID:        payload.TranscriptID,
			VisitID:   ev.VisitID,
			Provider:  payload.Provider,
			Text:      payload.Text,
			CreatedAt: ev.CreatedAt,
			Fallback:  payload.Fallback,
		}
		if ev.JobID != nil {
			t.JobID = *ev.JobID
		}
		out = append(out, t)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/logger"
	"gorm.io/datatypes"
)

// NoteLedger is the insert-only store of note entries and signatures.
type NoteLedger interface {
	AppendEntries(ctx context.Context, entries ...*domain.VisitNoteEntry) error
	ListByVisit(ctx context.Context, visitID string) ([]domain.VisitNoteEntry, error)
	Sign(ctx context.Context, visitID string, signedBy *string) (*domain.VisitNoteSignature, error)
	GetSignature(ctx context.Context, visitID string) (*domain.VisitNoteSignature, error)
}

// AppendEntryInput is one manual or dictated note entry.
type AppendEntryInput struct {
	VisitID  string
	Section  domain.Section
	Content  string
	Source   domain.EntrySource
	AuthorID *string
}

// NoteSection is one section of a rendered note.
type NoteSection struct {
	Section  domain.Section          `json:"section"`
	Entries  []domain.VisitNoteEntry `json:"entries"`
	Rendered string                  `json:"rendered"`
}

// VisitNote is the aggregate view of a visit's clinical note.
type VisitNote struct {
	VisitID  string                  `json:"visit_id"`
	Status   domain.NoteStatus       `json:"status"`
	SignedAt *time.Time              `json:"signed_at,omitempty"`
	SignedBy *string                 `json:"signed_by,omitempty"`
	Entries  []domain.VisitNoteEntry `json:"entries"`
	Sections []NoteSection           `json:"sections"`
}

// HasSection reports whether the note has at least one entry in section.
func (n *VisitNote) HasSection(section domain.Section) bool {
	for _, s := range n.Sections {
		if s.Section == section {
			return len(s.Entries) > 0
		}
	}
	return false
}

// NotesService owns the visit note lifecycle: entries are appended while the
// note is a draft, and signing freezes it permanently.
type NotesService struct {
	ledger NoteLedger
	audit  AuditRecorder
	now    func() time.Time
}

// NewNotesService creates a new NotesService. audit may be nil.
func NewNotesService(ledger NoteLedger, audit AuditRecorder) *NotesService {
	return &NotesService{ledger: ledger, audit: audit, now: time.Now}
}

// AppendEntry validates and appends one entry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - in: entry fields; Source defaults to manual.
//
// Returns:
//   - *domain.VisitNoteEntry: the stored entry.
//   - error: validation errors, ErrNoteSigned, or a database error.
func (s *NotesService) AppendEntry(ctx context.Context, in AppendEntryInput) (*domain.VisitNoteEntry, error) {
	if strings.TrimSpace(in.VisitID) == "" {
		return nil, domain.ErrVisitIDRequired
	}
	if !in.Section.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSection, in.Section)
	}
	if in.Source == "" {
		in.Source = domain.EntrySourceManual
	}
	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSource, in.Source)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}

	entry := &domain.VisitNoteEntry{
		VisitID:   in.VisitID,
		AuthorID:  in.AuthorID,
		Section:   in.Section,
		Content:   content,
		Source:    in.Source,
		Timestamp: s.now().UTC(),
	}
	if err := s.ledger.AppendEntries(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendEntries appends a pre-built batch, as produced by the pipeline.
func (s *NotesService) AppendEntries(ctx context.Context, entries ...*domain.VisitNoteEntry) error {
	return s.ledger.AppendEntries(ctx, entries...)
}

// EnsureWritable returns ErrNoteSigned if the visit note has been signed.
func (s *NotesService) EnsureWritable(ctx context.Context, visitID string) error {
	sig, err := s.ledger.GetSignature(ctx, visitID)
	if err != nil {
		return fmt.Errorf("failed to read note signature: %w", err)
	}
	if sig != nil {
		return domain.ErrNoteSigned
	}
	return nil
}

// GetNotes returns the note for a visit. A visit without entries yields an
// empty draft note.
func (s *NotesService) GetNotes(ctx context.Context, visitID string) (*VisitNote, error) {
	if strings.TrimSpace(visitID) == "" {
		return nil, domain.ErrVisitIDRequired
	}

	entries, err := s.ledger.ListByVisit(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("failed to list note entries: %w", err)
	}
	sig, err := s.ledger.GetSignature(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("failed to read note signature: %w", err)
	}

	note := &VisitNote{
		VisitID: visitID,
		Status:  domain.NoteStatusDraft,
		Entries: entries,
	}
	if note.Entries == nil {
		note.Entries = []domain.VisitNoteEntry{}
	}
	if sig != nil {
		signedAt := sig.SignedAt
		note.Status = domain.NoteStatusSigned
		note.SignedAt = &signedAt
		note.SignedBy = sig.SignedBy
	}
	note.Sections = groupSections(entries)
	return note, nil
}

// Sign freezes the note. Signing an already signed note returns ErrNoteAlreadySigned.
func (s *NotesService) Sign(ctx context.Context, visitID string, signedBy *string) (*VisitNote, error) {
	if strings.TrimSpace(visitID) == "" {
		return nil, domain.ErrVisitIDRequired
	}
	sig, err := s.ledger.Sign(ctx, visitID, signedBy)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithField(ctx, logger.FieldVisitID, visitID)
	logger.CtxInfo(ctx, "Visit note signed")
	s.recordSigned(ctx, sig)

	return s.GetNotes(ctx, visitID)
}

func (s *NotesService) recordSigned(ctx context.Context, sig *domain.VisitNoteSignature) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := s.audit.Create(ctx, &domain.AuditEvent{
		VisitID: sig.VisitID,
		Action:  domain.AuditActionNoteSigned,
		Payload: datatypes.JSON(payload),
	}); err != nil {
		logger.CtxWarn(ctx, "Failed to record signing audit event: %v", err)
	}
}

// groupSections partitions entries by section in taxonomy order; sections
// without entries are omitted.
func groupSections(entries []domain.VisitNoteEntry) []NoteSection {
	bySection := make(map[domain.Section][]domain.VisitNoteEntry)
	for _, e := range entries {
		bySection[e.Section] = append(bySection[e.Section], e)
	}

	sections := make([]NoteSection, 0, len(bySection))
	for _, section := range domain.Sections {
		list := bySection[section]
		if len(list) == 0 {
			continue
		}
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = e.Content
		}
		sections = append(sections, NoteSection{
			Section:  section,
			Entries:  list,
			Rendered: strings.Join(parts, "\n\n"),
		})
	}
	return sections
}

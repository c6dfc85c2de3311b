package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TranscriptRepository handles transcript persistence.
type TranscriptRepository struct {
	db *gorm.DB
}

// NewTranscriptRepository creates a new TranscriptRepository.
func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Create inserts a transcript, assigning an ID and timestamp when missing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - t: transcript to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *TranscriptRepository) Create(ctx context.Context, t *domain.Transcript) error {
	prepareTranscript(t)
	return r.db.WithContext(ctx).Create(t).Error
}

// Restore inserts a transcript recovered from the fallback log. A row that
// already exists with the same ID is left untouched.
func (r *TranscriptRepository) Restore(ctx context.Context, t *domain.Transcript) error {
	prepareTranscript(t)
	t.Fallback = false
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error
}

func prepareTranscript(t *domain.Transcript) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
}

// ListByVisits returns transcripts for the given visits, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - visitIDs: visits to include; empty returns nil.
// Returns:
//   - []domain.Transcript: matching transcripts.
//   - error: non-nil if the query fails.
func (r *TranscriptRepository) ListByVisits(ctx context.Context, visitIDs []string) ([]domain.Transcript, error) {
	if len(visitIDs) == 0 {
		return nil, nil
	}
	var transcripts []domain.Transcript
	err := r.db.WithContext(ctx).
		Where("visit_id IN ?", visitIDs).
		Order("created_at ASC, id ASC").
		Find(&transcripts).Error
	if err != nil {
		return nil, err
	}
	return transcripts, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VisitNoteRepository is the insert-only ledger of visit note entries.
// It deliberately has no update or delete operations.
type VisitNoteRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewVisitNoteRepository creates a new VisitNoteRepository.
func NewVisitNoteRepository(db *gorm.DB) *VisitNoteRepository {
	return &VisitNoteRepository{db: db, now: time.Now}
}

// AppendEntries inserts entries as one batch. The batch is rejected with
// ErrNoteSigned if any target visit has been signed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - entries: entries to append; IDs and timestamps are filled when empty.
// Returns:
//   - error: ErrNoteSigned, or a database error.
func (r *VisitNoteRepository) AppendEntries(ctx context.Context, entries ...*domain.VisitNoteEntry) error {
	return r.insert(ctx, false, entries)
}

// Restore appends entries recovered from the fallback log, skipping IDs that
// were already inserted by an earlier replay.
func (r *VisitNoteRepository) Restore(ctx context.Context, entries ...*domain.VisitNoteEntry) error {
	for _, e := range entries {
		e.Fallback = false
	}
	return r.insert(ctx, true, entries)
}

func (r *VisitNoteRepository) insert(ctx context.Context, ignoreDuplicates bool, entries []*domain.VisitNoteEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := r.now().UTC()
	visitIDs := make([]string, 0, 1)
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		if _, ok := seen[e.VisitID]; !ok {
			seen[e.VisitID] = struct{}{}
			visitIDs = append(visitIDs, e.VisitID)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var signed int64
		if err := tx.Model(&domain.VisitNoteSignature{}).
			Where("visit_id IN ?", visitIDs).
			Count(&signed).Error; err != nil {
			return fmt.Errorf("failed to check note signature: %w", err)
		}
		if signed > 0 {
			return domain.ErrNoteSigned
		}

		if ignoreDuplicates {
			tx = tx.Clauses(clause.OnConflict{DoNothing: true})
		}
		return tx.Create(entries).Error
	})
}

// ListByVisit returns all entries for a visit in chronological order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - visitID: visit ID.
// Returns:
//   - []domain.VisitNoteEntry: entries ordered by timestamp, then ID.
//   - error: non-nil if the query fails.
func (r *VisitNoteRepository) ListByVisit(ctx context.Context, visitID string) ([]domain.VisitNoteEntry, error) {
	var entries []domain.VisitNoteEntry
	err := r.db.WithContext(ctx).
		Where("visit_id = ?", visitID).
		Order("timestamp ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Sign records the signature of a visit note. Signing is one-way.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - visitID: visit ID.
//   - signedBy: optional signer ID.
// Returns:
//   - *domain.VisitNoteSignature: the stored signature.
//   - error: ErrNoteAlreadySigned if a signature exists.
func (r *VisitNoteRepository) Sign(ctx context.Context, visitID string, signedBy *string) (*domain.VisitNoteSignature, error) {
	sig := &domain.VisitNoteSignature{
		VisitID:  visitID,
		SignedBy: signedBy,
		SignedAt: r.now().UTC(),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(sig)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to sign note: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrNoteAlreadySigned
	}
	return sig, nil
}

// GetSignature returns the signature of a visit note, or nil if it is a draft.
func (r *VisitNoteRepository) GetSignature(ctx context.Context, visitID string) (*domain.VisitNoteSignature, error) {
	var sig domain.VisitNoteSignature
	err := r.db.WithContext(ctx).First(&sig, "visit_id = ?", visitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/domain"
	"gorm.io/gorm"
)

// AuditRepository records and reads audit events.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit event, assigning an ID and timestamp when missing.
func (r *AuditRepository) Create(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByVisits returns events with the given action for the given visits, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - action: audit action to match.
//   - visitIDs: visits to include; empty returns nil.
// Returns:
//   - []domain.AuditEvent: matching events.
//   - error: non-nil if the query fails.
func (r *AuditRepository) ListByVisits(ctx context.Context, action string, visitIDs []string) ([]domain.AuditEvent, error) {
	if len(visitIDs) == 0 {
		return nil, nil
	}
	var events []domain.AuditEvent
	err := r.db.WithContext(ctx).
		Where("action = ? AND visit_id IN ?", action, visitIDs).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

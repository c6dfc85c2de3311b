package repository

import (
	"context"
	"errors"

	"github.com/timmy/visitscribe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VisitRepository reads visit scheduling records.
type VisitRepository struct {
	db *gorm.DB
}

// NewVisitRepository creates a new VisitRepository.
func NewVisitRepository(db *gorm.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Upsert creates or replaces a visit row. Used when syncing visits from the clinical application.
func (r *VisitRepository) Upsert(ctx context.Context, visit *domain.Visit) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(visit).Error
}

// GetByID retrieves a visit by its ID.
func (r *VisitRepository) GetByID(ctx context.Context, id string) (*domain.Visit, error) {
	var visit domain.Visit
	err := r.db.WithContext(ctx).First(&visit, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrVisitNotFound
	}
	if err != nil {
		return nil, err
	}
	return &visit, nil
}

// ListIDsByPatient returns the IDs of a patient's visits, oldest first.
func (r *VisitRepository) ListIDsByPatient(ctx context.Context, patientID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Visit{}).
		Where("patient_id = ?", patientID).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLeaseDuration = 15 * time.Minute
	defaultClaimAttempts = 5
)

// JobRepository is the transcription job queue. All state transitions are
// conditional updates, so concurrent workers never both own a job.
type JobRepository struct {
	db            *gorm.DB
	leaseDuration time.Duration
	claimAttempts int
	now           func() time.Time
}

// JobRepositoryOption customizes a JobRepository.
type JobRepositoryOption func(*JobRepository)

// WithLeaseDuration sets how long a claim stays valid before the job may be re-claimed.
func WithLeaseDuration(d time.Duration) JobRepositoryOption {
	return func(r *JobRepository) {
		if d > 0 {
			r.leaseDuration = d
		}
	}
}

// WithClaimAttempts bounds how many candidates ClaimNext tries before reporting an empty queue.
func WithClaimAttempts(n int) JobRepositoryOption {
	return func(r *JobRepository) {
		if n > 0 {
			r.claimAttempts = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) JobRepositoryOption {
	return func(r *JobRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - opts: optional lease, claim and clock settings.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB, opts ...JobRepositoryOption) *JobRepository {
	r := &JobRepository{
		db:            db,
		leaseDuration: defaultLeaseDuration,
		claimAttempts: defaultClaimAttempts,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *JobRepository) clock() time.Time {
	return r.now().UTC()
}

// Enqueue inserts a pending job. Duplicate visit/path pairs are not deduplicated.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - visitID: visit the audio belongs to.
//   - path: storage key of the uploaded audio.
//   - cacheID: optional caller-supplied cache key.
// Returns:
//   - *domain.Job: the persisted pending job.
//   - error: non-nil if the insert fails.
func (r *JobRepository) Enqueue(ctx context.Context, visitID, path string, cacheID *string) (*domain.Job, error) {
	now := r.clock()
	job := &domain.Job{
		ID:        uuid.New().String(),
		VisitID:   visitID,
		Path:      path,
		CacheID:   cacheID,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// ClaimNext claims the oldest claimable job: a pending job, or a processing job
// whose lease has expired.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - workerID: identifier recorded on the claim.
// Returns:
//   - *domain.Job: the claimed job, or nil when nothing is claimable.
//   - error: non-nil on database errors.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	for attempt := 0; attempt < r.claimAttempts; attempt++ {
		now := r.clock()

		var candidate domain.Job
		err := r.db.WithContext(ctx).
			Where("status = ?", domain.JobStatusPending).
			Or("status = ? AND lease_expires_at < ?", domain.JobStatusProcessing, now).
			Order("created_at ASC, id ASC").
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select claimable job: %w", err)
		}

		claimed, err := r.claim(ctx, &candidate, workerID, now)
		if err != nil {
			return nil, err
		}
		if claimed {
			return &candidate, nil
		}
		// Another worker won the race for this candidate; look again.
	}
	return nil, nil
}

// ClaimByID claims a specific job for direct processing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - workerID: identifier recorded on the claim.
// Returns:
//   - *domain.Job: the claimed job.
//   - error: ErrJobNotFound, ErrJobNotClaimable, or a database error.
func (r *JobRepository) ClaimByID(ctx context.Context, id, workerID string) (*domain.Job, error) {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.clock()
	if !r.claimable(job, now) {
		return nil, fmt.Errorf("%w: status %s", domain.ErrJobNotClaimable, job.Status)
	}

	claimed, err := r.claim(ctx, job, workerID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrJobNotClaimable
	}
	return job, nil
}

func (r *JobRepository) claimable(job *domain.Job, now time.Time) bool {
	switch {
	case job.Status.IsTerminal():
		return false
	case job.Status == domain.JobStatusProcessing:
		return job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(now)
	default:
		return job.Status == domain.JobStatusPending
	}
}

// claim moves the observed job snapshot to processing. The update matches only
// while the row still has the observed status (and claim token for re-claims),
// so at most one caller sees RowsAffected == 1.
func (r *JobRepository) claim(ctx context.Context, job *domain.Job, workerID string, now time.Time) (bool, error) {
	if !domain.CanTransition(job.Status, domain.JobStatusProcessing) {
		return false, domain.ErrInvalidTransition
	}

	token := uuid.New().String()
	lease := now.Add(r.leaseDuration)

	query := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", job.ID)
	if job.Status == domain.JobStatusPending {
		query = query.Where("status = ?", domain.JobStatusPending)
	} else {
		query = query.Where("status = ? AND claim_token = ? AND lease_expires_at < ?",
			domain.JobStatusProcessing, job.ClaimToken, now)
	}

	res := query.Updates(map[string]interface{}{
		"status":           domain.JobStatusProcessing,
		"claimed_by":       workerID,
		"claim_token":      token,
		"lease_expires_at": lease,
		"attempts":         gorm.Expr("attempts + 1"),
		"updated_at":       now,
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	job.Status = domain.JobStatusProcessing
	job.ClaimedBy = workerID
	job.ClaimToken = token
	job.LeaseExpiresAt = &lease
	job.Attempts++
	job.UpdatedAt = now
	return true, nil
}

// Complete marks a claimed job as completed and stores its result.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job previously returned by a claim call.
//   - result: transcript and note entries produced by the pipeline.
// Returns:
//   - error: ErrClaimLost if the claim is no longer held.
func (r *JobRepository) Complete(ctx context.Context, job *domain.Job, result *domain.JobResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}
	payload := datatypes.JSON(encoded)

	now := r.clock()
	if err := r.finish(ctx, job, map[string]interface{}{
		"status":           domain.JobStatusCompleted,
		"result":           payload,
		"error":            "",
		"lease_expires_at": nil,
		"processed_at":     now,
		"updated_at":       now,
	}); err != nil {
		return err
	}

	job.Status = domain.JobStatusCompleted
	job.Result = payload
	job.Error = ""
	job.LeaseExpiresAt = nil
	job.ProcessedAt = &now
	job.UpdatedAt = now
	return nil
}

// Fail marks a claimed job as failed with the given message.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job previously returned by a claim call.
//   - message: stringified error.
// Returns:
//   - error: ErrClaimLost if the claim is no longer held.
func (r *JobRepository) Fail(ctx context.Context, job *domain.Job, message string) error {
	now := r.clock()
	if err := r.finish(ctx, job, map[string]interface{}{
		"status":           domain.JobStatusFailed,
		"error":            message,
		"lease_expires_at": nil,
		"updated_at":       now,
	}); err != nil {
		return err
	}

	job.Status = domain.JobStatusFailed
	job.Error = message
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return nil
}

func (r *JobRepository) finish(ctx context.Context, job *domain.Job, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND claim_token = ?", job.ID, domain.JobStatusProcessing, job.ClaimToken).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrClaimLost, job.ID)
	}
	return nil
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: ErrJobNotFound if missing.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ExistsByCacheID reports whether any job was enqueued with cacheID.
func (r *JobRepository) ExistsByCacheID(ctx context.Context, cacheID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).Where("cache_id = ?", cacheID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByStatus returns jobs with the given status in queue order.
func (r *JobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

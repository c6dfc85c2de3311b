package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus represents the status of a transcription job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// processing -> processing is the re-claim of a job whose lease expired.
// Parameters:
//   - from: current status.
//   - to: requested status.
// Returns:
//   - bool: true when the transition is part of the job lattice.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// Job represents one request to transcribe an uploaded audio file into clinical note entries.
type Job struct {
	ID             string         `gorm:"type:text;primaryKey" json:"id"`
	VisitID        string         `gorm:"type:text;not null;index:idx_jobs_visit" json:"visit_id"`
	Path           string         `gorm:"type:text;not null" json:"path"`
	CacheID        *string        `gorm:"type:text" json:"cache_id,omitempty"`
	Status         JobStatus      `gorm:"type:text;not null;default:pending;index:idx_jobs_status_created,priority:1" json:"status"`
	Result         datatypes.JSON `json:"result,omitempty"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	Attempts       int            `gorm:"default:0" json:"attempts"`
	ClaimedBy      string         `gorm:"type:text" json:"claimed_by,omitempty"`
	ClaimToken     string         `gorm:"type:text" json:"-"`
	LeaseExpiresAt *time.Time     `gorm:"index:idx_jobs_lease" json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time      `gorm:"index:idx_jobs_status_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

// TableName returns the database table name for Job.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Job) TableName() string {
	return "transcription_jobs"
}

// JobResult is the payload stored on a completed job.
type JobResult struct {
	Transcript Transcript       `json:"transcript"`
	Notes      []VisitNoteEntry `json:"notes"`
	Structured *ClinicalFields  `json:"structured,omitempty"`
	Summary    *string          `json:"summary,omitempty"`
}

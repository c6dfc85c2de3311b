package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Provider markers for transcripts that were not produced by a hosted model.
const (
	ProviderLocalStub = "local-stub"
	ProviderSimulate  = "simulate"
)

// Transcript is the text derived from one job's audio.
type Transcript struct {
	ID               string         `gorm:"type:text;primaryKey" json:"id"`
	VisitID          string         `gorm:"type:text;not null;index:idx_transcripts_visit" json:"visit_id"`
	JobID            string         `gorm:"type:text;index" json:"job_id,omitempty"`
	Provider         string         `gorm:"type:text;not null" json:"provider"`
	ProviderMetadata datatypes.JSON `json:"provider_metadata,omitempty"`
	Text             string         `gorm:"type:text;not null" json:"text"`
	CreatedAt        time.Time      `json:"created_at"`
	Fallback         bool           `gorm:"-" json:"fallback,omitempty"`
}

// TableName returns the database table name for Transcript.
func (Transcript) TableName() string {
	return "transcripts"
}

// MarkFallback records that the transcript was diverted to the local fallback stream.
func (t *Transcript) MarkFallback(localID string) {
	t.ID = localID
	t.Fallback = true
}

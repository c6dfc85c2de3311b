package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions recorded by the pipeline.
const (
	AuditActionTranscriptionCompleted = "transcription.completed"
	AuditActionNoteSigned             = "note.signed"
)

// AuditEvent is an immutable record of something that happened to a visit.
type AuditEvent struct {
	ID        string         `gorm:"type:text;primaryKey" json:"id"`
	VisitID   string         `gorm:"type:text;not null;index:idx_audit_visit_action,priority:1" json:"visit_id"`
	JobID     *string        `gorm:"type:text" json:"job_id,omitempty"`
	Action    string         `gorm:"type:text;not null;index:idx_audit_visit_action,priority:2" json:"action"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the database table name for AuditEvent.
func (AuditEvent) TableName() string {
	return "audit_events"
}

// TranscriptionAudit is the payload of a transcription.completed event.
type TranscriptionAudit struct {
	TranscriptID string `json:"transcript_id"`
	Provider     string `json:"provider"`
	Text         string `json:"text"`
	Fallback     bool   `json:"fallback,omitempty"`
}

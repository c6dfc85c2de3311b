package domain

import "time"

// Visit is the scheduling record a job and its note belong to.
// Rows are owned by the clinical application; this service only reads them.
type Visit struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	PatientID   string     `gorm:"type:text;not null;index:idx_visits_patient" json:"patient_id"`
	ClinicianID string     `gorm:"type:text" json:"clinician_id,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name for Visit.
func (Visit) TableName() string {
	return "visits"
}

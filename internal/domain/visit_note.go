package domain

import "time"

// Section is a partition of the clinical note.
type Section string

const (
	SectionTranscript Section = "transcript"
	SectionSummary    Section = "summary"
	SectionSubjective Section = "subjective"
	SectionObjective  Section = "objective"
	SectionAssessment Section = "assessment"
	SectionPlan       Section = "plan"
	SectionAddendum   Section = "addendum"
)

// Sections lists the note taxonomy in rendering order.
var Sections = []Section{
	SectionTranscript,
	SectionSummary,
	SectionSubjective,
	SectionObjective,
	SectionAssessment,
	SectionPlan,
	SectionAddendum,
}

// Valid reports whether s is part of the note taxonomy.
func (s Section) Valid() bool {
	for _, known := range Sections {
		if s == known {
			return true
		}
	}
	return false
}

// EntrySource identifies how a note entry was produced.
type EntrySource string

const (
	EntrySourceManual        EntrySource = "manual"
	EntrySourceDictation     EntrySource = "dictation"
	EntrySourceTranscription EntrySource = "transcription"
)

// Valid reports whether s is a known entry source.
func (s EntrySource) Valid() bool {
	switch s {
	case EntrySourceManual, EntrySourceDictation, EntrySourceTranscription:
		return true
	}
	return false
}

// NoteStatus is the derived lifecycle state of a visit note.
type NoteStatus string

const (
	NoteStatusDraft  NoteStatus = "draft"
	NoteStatusSigned NoteStatus = "signed"
)

// VisitNoteEntry is one append-only line of a visit's clinical note.
// Entries are never updated or deleted; corrections are new entries.
type VisitNoteEntry struct {
	ID        string      `gorm:"type:text;primaryKey" json:"id"`
	VisitID   string      `gorm:"type:text;not null;index:idx_note_entries_visit_ts,priority:1" json:"visit_id"`
	AuthorID  *string     `gorm:"type:text" json:"author_id"`
	Section   Section     `gorm:"type:text;not null" json:"section"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Source    EntrySource `gorm:"type:text;not null" json:"source"`
	JobID     *string     `gorm:"type:text" json:"job_id,omitempty"`
	Timestamp time.Time   `gorm:"not null;index:idx_note_entries_visit_ts,priority:2" json:"timestamp"`
	Fallback  bool        `gorm:"-" json:"fallback,omitempty"`
}

// TableName returns the database table name for VisitNoteEntry.
func (VisitNoteEntry) TableName() string {
	return "visit_note_entries"
}

// MarkFallback records that the entry was diverted to the local fallback stream.
func (e *VisitNoteEntry) MarkFallback(localID string) {
	e.ID = localID
	e.Fallback = true
}

// VisitNoteSignature marks a visit note as signed. At most one row exists per visit.
type VisitNoteSignature struct {
	VisitID  string    `gorm:"type:text;primaryKey" json:"visit_id"`
	SignedBy *string   `gorm:"type:text" json:"signed_by,omitempty"`
	SignedAt time.Time `gorm:"not null" json:"signed_at"`
}

// TableName returns the database table name for VisitNoteSignature.
func (VisitNoteSignature) TableName() string {
	return "visit_note_signatures"
}

package source

import (
	"context"
	"time"
)

// RecordingItem is one dictation recording offered by a source.
type RecordingItem struct {
	SourceID    string // Unique ID within the source
	VisitID     string
	PatientID   string // Optional; when set the visit is upserted
	ClinicianID string
	Path        string // Object key of the audio in storage
	CacheID     *string
	ScheduledAt *time.Time
}

// Source defines the interface for recording sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches a batch of recordings starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of recordings.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []RecordingItem, nextCursor string, err error)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
)

// TranscriptRestorer inserts transcripts recovered from the fallback log.
type TranscriptRestorer interface {
	Restore(ctx context.Context, t *domain.Transcript) error
}

// NoteRestorer inserts note entries recovered from the fallback log.
type NoteRestorer interface {
	Restore(ctx context.Context, entries ...*domain.VisitNoteEntry) error
}

// RegisterReplayers wires the transcript and visit note streams to their
// primary stores. Payloads that no longer decode are rejected; entries for
// a note signed in the meantime are rejected by the writer's permanent errors.
func RegisterReplayers(rec *fallback.Reconciler, transcripts TranscriptRestorer, notes NoteRestorer) {
	rec.Register(fallback.StreamTranscripts, func(ctx context.Context, payload json.RawMessage) error {
		var t domain.Transcript
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("%w: decode transcript: %v", fallback.ErrRejected, err)
		}
		return transcripts.Restore(ctx, &t)
	})
	rec.Register(fallback.StreamVisitNotes, func(ctx context.Context, payload json.RawMessage) error {
		var e domain.VisitNoteEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("%w: decode note entry: %v", fallback.ErrRejected, err)
		}
		return notes.Restore(ctx, &e)
	})
}

package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestReplayDrainsStream(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx := context.Background()
	for _, text := range []string{"good-1", "reject", "later", "good-2"} {
		if _, err := w.Write(ctx, StreamTranscripts, failingInsert, &testRecord{Text: text}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var restored []string
	r := NewReconciler(w)
	r.Register(StreamTranscripts, func(ctx context.Context, payload json.RawMessage) error {
		var rec testRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
		switch rec.Text {
		case "reject":
			return fmt.Errorf("%w: visit signed", ErrRejected)
		case "later":
			return errPrimaryDown
		}
		restored = append(restored, rec.Text)
		return nil
	})

	stats, err := r.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected stats for one stream, got %d", len(stats))
	}
	got := stats[0]
	if got.Replayed != 2 || got.Rejected != 1 || got.Remaining != 1 {
		t.Errorf("unexpected stats: %+v", got)
	}
	if len(restored) != 2 || restored[0] != "good-1" || restored[1] != "good-2" {
		t.Errorf("unexpected replay order: %v", restored)
	}

	remaining, err := w.Read(StreamTranscripts)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining envelope, got %d", len(remaining))
	}
	rejected, err := w.ReadRejected(StreamTranscripts)
	if err != nil {
		t.Fatalf("ReadRejected: %v", err)
	}
	if len(rejected) != 1 || rejected[0].Reason == "" {
		t.Errorf("expected one rejected envelope with a reason, got %+v", rejected)
	}
}

func TestReplayRemovesDrainedLog(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx := context.Background()
	if _, err := w.Write(ctx, StreamVisitNotes, failingInsert, &testRecord{Text: "x"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReconciler(w)
	r.Register(StreamVisitNotes, func(context.Context, json.RawMessage) error { return nil })
	if _, err := r.Replay(ctx); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "visit_notes.jsonl")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected drained log to be removed, stat err = %v", err)
	}
}

func TestReplayStopsOnCancelledContext(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := w.Write(context.Background(), StreamTranscripts, failingInsert, &testRecord{Text: "x"}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := NewReconciler(w)
	r.Register(StreamTranscripts, func(context.Context, json.RawMessage) error {
		calls++
		cancel()
		return nil
	})

	stats, err := r.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if calls != 1 || stats[0].Replayed != 1 || stats[0].Remaining != 2 {
		t.Errorf("unexpected result after cancel: calls=%d stats=%+v", calls, stats[0])
	}
}

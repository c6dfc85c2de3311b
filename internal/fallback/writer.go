// Package fallback keeps records the primary store could not accept. Each
// stream is an append-only JSON Lines log under one directory; the
// Reconciler drains it back into the primary store once it recovers.
package fallback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/timmy/visitscribe/internal/logger"
)

// Stream names a logical record stream.
type Stream string

const (
	StreamTranscripts Stream = "transcripts"
	StreamVisitNotes  Stream = "visit_notes"
)

// ErrRejected marks a record the primary store will never accept.
var ErrRejected = errors.New("fallback record rejected")

// Record is a value that can be diverted to a fallback stream.
type Record interface {
	// MarkFallback assigns the local ID and sets the fallback flag.
	MarkFallback(localID string)
}

// Envelope is one line of a stream log.
type Envelope struct {
	ID       string          `json:"id"`
	Stream   Stream          `json:"stream"`
	StoredAt time.Time       `json:"stored_at"`
	Fallback bool            `json:"fallback"`
	Reason   string          `json:"reason,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Result describes where a write ended up.
type Result struct {
	Fallback   bool
	LocalIDs   []string
	PrimaryErr error
}

// Option customizes a Writer.
type Option func(*Writer)

// WithPermanentErrors lists primary errors that are returned to the caller
// instead of being diverted, because retrying the write can never succeed.
func WithPermanentErrors(errs ...error) Option {
	return func(w *Writer) {
		w.permanent = append(w.permanent, errs...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// Writer persists records to the primary store and, on failure, to the local stream log.
type Writer struct {
	dir       string
	permanent []error
	now       func() time.Time

	mu    sync.Mutex
	locks map[Stream]*flock.Flock
}

// NewWriter creates a Writer rooted at dir, creating the directory if needed.
// Parameters:
//   - dir: directory holding one log file per stream.
//   - opts: optional settings.
// Returns:
//   - *Writer: writer instance.
//   - error: non-nil if dir cannot be created.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create fallback directory: %w", err)
	}
	w := &Writer{
		dir:   dir,
		now:   time.Now,
		locks: make(map[Stream]*flock.Flock),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the directory holding the stream logs.
func (w *Writer) Dir() string {
	return w.dir
}

// Write runs insert against the primary store. When it fails with a
// non-permanent error, every record gets a local ID and is appended to the
// stream log instead. Cancellation and deadline errors are returned as is.
// Parameters:
//   - ctx: context passed to insert.
//   - stream: stream the records belong to.
//   - insert: primary persistence call.
//   - records: the values insert writes, in order.
// Returns:
//   - *Result: Fallback is true when the records went to the local log.
//   - error: a permanent primary error, a cancellation, or a failure of both stores.
func (w *Writer) Write(ctx context.Context, stream Stream, insert func(ctx context.Context) error, records ...Record) (*Result, error) {
	primaryErr := insert(ctx)
	if primaryErr == nil {
		return &Result{}, nil
	}
	if w.isPermanent(primaryErr) {
		return nil, primaryErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("primary write interrupted (%v): %w", primaryErr, ctxErr)
	}
	if errors.Is(primaryErr, context.Canceled) || errors.Is(primaryErr, context.DeadlineExceeded) {
		return nil, primaryErr
	}

	ctx = logger.WithField(ctx, logger.FieldStream, string(stream))
	logger.CtxWarn(ctx, "Primary write failed, diverting %d record(s) to fallback: %v", len(records), primaryErr)

	now := w.now().UTC()
	envelopes := make([]Envelope, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		id := newLocalID(now)
		rec.MarkFallback(id)

		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fallback record: %w", err)
		}
		envelopes = append(envelopes, Envelope{
			ID:       id,
			Stream:   stream,
			StoredAt: now,
			Fallback: true,
			Reason:   primaryErr.Error(),
			Payload:  payload,
		})
		ids = append(ids, id)
	}

	if err := w.append(stream, envelopes); err != nil {
		return nil, fmt.Errorf("primary write failed (%v) and fallback append failed: %w", primaryErr, err)
	}

	logger.With(logger.Fields{logger.FieldCount: len(envelopes)}).Info(ctx, "Records stored in fallback stream")
	return &Result{Fallback: true, LocalIDs: ids, PrimaryErr: primaryErr}, nil
}

// Read returns every envelope currently in the stream log. A missing log is empty.
func (w *Writer) Read(stream Stream) ([]Envelope, error) {
	unlock, err := w.lock(stream)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return readLog(w.path(stream))
}

// ReadRejected returns the envelopes the Reconciler gave up on.
func (w *Writer) ReadRejected(stream Stream) ([]Envelope, error) {
	unlock, err := w.lock(stream)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return readLog(w.rejectedPath(stream))
}

func (w *Writer) isPermanent(err error) bool {
	if errors.Is(err, ErrRejected) {
		return true
	}
	for _, target := range w.permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (w *Writer) path(stream Stream) string {
	return filepath.Join(w.dir, string(stream)+".jsonl")
}

func (w *Writer) rejectedPath(stream Stream) string {
	return filepath.Join(w.dir, string(stream)+".rejected.jsonl")
}

// lock takes the in-process mutex and the cross-process file lock for stream.
func (w *Writer) lock(stream Stream) (func(), error) {
	w.mu.Lock()
	fl, ok := w.locks[stream]
	if !ok {
		fl = flock.New(filepath.Join(w.dir, string(stream)+".lock"))
		w.locks[stream] = fl
	}
	if err := fl.Lock(); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("failed to lock fallback stream %s: %w", stream, err)
	}
	return func() {
		_ = fl.Unlock()
		w.mu.Unlock()
	}, nil
}

func (w *Writer) append(stream Stream, envelopes []Envelope) error {
	unlock, err := w.lock(stream)
	if err != nil {
		return err
	}
	defer unlock()

	return appendLog(w.path(stream), envelopes)
}

func appendLog(path string, envelopes []Envelope) error {
	data, err := encodeLines(envelopes)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open fallback log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to append fallback log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync fallback log: %w", err)
	}
	return f.Close()
}

// rewriteLog atomically replaces path with envelopes, removing it when empty.
func rewriteLog(path string, envelopes []Envelope) error {
	if len(envelopes) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove drained fallback log: %w", err)
		}
		return nil
	}

	data, err := encodeLines(envelopes)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp fallback log: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp fallback log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp fallback log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp fallback log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace fallback log: %w", err)
	}
	return nil
}

func encodeLines(envelopes []Envelope) ([]byte, error) {
	var buf bytes.Buffer
	for _, env := range envelopes {
		line, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fallback envelope: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// readLog decodes a JSON Lines file. Lines that do not decode (a write torn
// by a crash) are skipped.
func readLog(path string) ([]Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open fallback log: %w", err)
	}
	defer f.Close()

	var envelopes []Envelope
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var env Envelope
			if decodeErr := json.Unmarshal(line, &env); decodeErr != nil {
				logger.GetDefault().WithField("path", path).Warnf("Skipping undecodable fallback line: %v", decodeErr)
			} else {
				envelopes = append(envelopes, env)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read fallback log: %w", err)
		}
	}
	return envelopes, nil
}

func newLocalID(now time.Time) string {
	return fmt.Sprintf("local-%d-%s", now.UnixMilli(), uuid.New().String()[:8])
}

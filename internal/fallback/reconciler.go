package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/timmy/visitscribe/internal/logger"
)

// ReplayFunc re-inserts one fallback payload into the primary store.
type ReplayFunc func(ctx context.Context, payload json.RawMessage) error

// ReplayStats summarizes one stream's replay pass.
type ReplayStats struct {
	Stream    Stream `json:"stream"`
	Replayed  int    `json:"replayed"`
	Rejected  int    `json:"rejected"`
	Remaining int    `json:"remaining"`
}

// Reconciler drains stream logs back into the primary store.
type Reconciler struct {
	writer   *Writer
	handlers map[Stream]ReplayFunc
}

// NewReconciler creates a Reconciler over the writer's streams.
func NewReconciler(writer *Writer) *Reconciler {
	return &Reconciler{
		writer:   writer,
		handlers: make(map[Stream]ReplayFunc),
	}
}

// Register sets the replay function for a stream.
func (r *Reconciler) Register(stream Stream, fn ReplayFunc) {
	r.handlers[stream] = fn
}

// Replay runs one pass over every registered stream. Replayed envelopes are
// removed from the log, permanently rejected ones move to the stream's
// rejected log, and the rest stay for the next pass.
// Parameters:
//   - ctx: context for cancellation; remaining envelopes are kept when it ends.
// Returns:
//   - []ReplayStats: per-stream counts, sorted by stream name.
//   - error: non-nil if a log could not be read or rewritten.
func (r *Reconciler) Replay(ctx context.Context) ([]ReplayStats, error) {
	streams := make([]Stream, 0, len(r.handlers))
	for stream := range r.handlers {
		streams = append(streams, stream)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i] < streams[j] })

	stats := make([]ReplayStats, 0, len(streams))
	for _, stream := range streams {
		s, err := r.replayStream(ctx, stream, r.handlers[stream])
		if err != nil {
			return stats, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (r *Reconciler) replayStream(ctx context.Context, stream Stream, fn ReplayFunc) (ReplayStats, error) {
	stats := ReplayStats{Stream: stream}
	ctx = logger.WithField(ctx, logger.FieldStream, string(stream))

	unlock, err := r.writer.lock(stream)
	if err != nil {
		return stats, err
	}
	defer unlock()

	envelopes, err := readLog(r.writer.path(stream))
	if err != nil {
		return stats, err
	}
	if len(envelopes) == 0 {
		return stats, nil
	}

	var keep, rejected []Envelope
	for i, env := range envelopes {
		if ctx.Err() != nil {
			keep = append(keep, envelopes[i:]...)
			break
		}
		err := fn(ctx, env.Payload)
		switch {
		case err == nil:
			stats.Replayed++
		case r.writer.isPermanent(err):
			env.Reason = err.Error()
			rejected = append(rejected, env)
			logger.CtxWarn(ctx, "Fallback record %s rejected: %v", env.ID, err)
		default:
			keep = append(keep, env)
		}
	}
	stats.Rejected = len(rejected)
	stats.Remaining = len(keep)

	if len(rejected) > 0 {
		if err := appendLog(r.writer.rejectedPath(stream), rejected); err != nil {
			return stats, err
		}
	}
	if stats.Replayed > 0 || stats.Rejected > 0 {
		if err := rewriteLog(r.writer.path(stream), keep); err != nil {
			return stats, err
		}
	}

	logger.With(logger.Fields{
		"replayed":  stats.Replayed,
		"rejected":  stats.Rejected,
		"remaining": stats.Remaining,
	}).Info(ctx, "Fallback replay pass finished")
	return stats, nil
}

// Run replays every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("replay interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Replay(ctx); err != nil {
			logger.CtxError(ctx, "Fallback replay failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

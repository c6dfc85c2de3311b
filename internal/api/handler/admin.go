package handler

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/fallback"
	"github.com/timmy/visitscribe/internal/logger"
)

// Replayer drains the fallback streams into the primary store.
type Replayer interface {
	Replay(ctx context.Context) ([]fallback.ReplayStats, error)
}

// JobInspector reports queue depth and lists jobs per status.
type JobInspector interface {
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error)
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	replayer Replayer
	jobs     JobInspector

	// Replay run state
	mu            sync.RWMutex
	isRunning     bool
	lastStats     []fallback.ReplayStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - replayer: fallback reconciler.
//   - jobs: job repository used for queue stats; may be nil.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(replayer Replayer, jobs JobInspector) *AdminHandler {
	return &AdminHandler{replayer: replayer, jobs: jobs}
}

// ReplayResponse represents the replay API response.
type ReplayResponse struct {
	Message string                 `json:"message"`
	Streams []fallback.ReplayStats `json:"streams"`
}

// ReplayStatusResponse represents the replay status.
type ReplayStatusResponse struct {
	IsRunning     bool                   `json:"is_running"`
	LastRunTime   string                 `json:"last_run_time,omitempty"`
	LastRunStatus string                 `json:"last_run_status,omitempty"`
	LastStats     []fallback.ReplayStats `json:"last_stats,omitempty"`
}

// TriggerReplay handles POST /api/v1/admin/fallback/replay.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes per-stream replay stats, or 409 when a replay is running).
func (h *AdminHandler) TriggerReplay(c *gin.Context) {
	ctx := c.Request.Context()

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Replay request rejected: already running, client_ip=%s", c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "Replay is already running"})
		return
	}
	h.isRunning = true
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting fallback replay: client_ip=%s", c.ClientIP())

	// The replay finishes even if the client disconnects.
	startTime := time.Now()
	stats, err := h.replayer.Replay(context.WithoutCancel(ctx))
	duration := time.Since(startTime)

	h.mu.Lock()
	h.isRunning = false
	h.lastStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if stats == nil {
		stats = []fallback.ReplayStats{}
	}
	if err != nil {
		logger.With(logger.Fields{logger.FieldDurationMs: duration.Milliseconds()}).
			Error(ctx, "Fallback replay failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Replay failed: " + err.Error(),
			"streams": stats,
		})
		return
	}

	logger.With(logger.Fields{logger.FieldDurationMs: duration.Milliseconds()}).
		WithCount(len(stats)).
		Info(ctx, "Fallback replay completed")
	c.JSON(http.StatusOK, ReplayResponse{
		Message: "Replay completed",
		Streams: stats,
	})
}

// ReplayStatus handles GET /api/v1/admin/fallback/status.
func (h *AdminHandler) ReplayStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := ReplayStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		LastStats:     h.lastStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

var jobStatuses = []domain.JobStatus{
	domain.JobStatusPending,
	domain.JobStatusProcessing,
	domain.JobStatusCompleted,
	domain.JobStatusFailed,
}

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

// ListJobs handles GET /api/v1/admin/jobs?status=failed&limit=50.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job listing is not available"})
		return
	}

	status := domain.JobStatus(c.DefaultQuery("status", string(domain.JobStatusPending)))
	valid := false
	for _, s := range jobStatuses {
		if s == status {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown job status: " + string(status)})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultJobListLimit)))
	if err != nil || limit <= 0 {
		limit = defaultJobListLimit
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}

	jobs, err := h.jobs.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"jobs":   jobs,
	})
}

// JobStats handles GET /api/v1/admin/jobs/stats.
func (h *AdminHandler) JobStats(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job stats are not available"})
		return
	}
	counts, err := h.jobs.CountByStatus(c.Request.Context())
	if err != nil {
		writeError(c, err, "Failed to count jobs")
		return
	}

	byStatus := make(map[string]int64, len(counts))
	var total int64
	for _, status := range jobStatuses {
		byStatus[string(status)] = counts[status]
		total += counts[status]
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"by_status": byStatus,
	})
}

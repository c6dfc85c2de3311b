package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/domain"
)

// JobStore enqueues and reads transcription jobs.
type JobStore interface {
	Enqueue(ctx context.Context, visitID, path string, cacheID *string) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
}

// JobProcessor claims and runs a single job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string, simulate bool) (*domain.Job, *domain.JobResult, error)
}

// JobHandler handles job endpoints.
type JobHandler struct {
	jobs      JobStore
	processor JobProcessor
}

// NewJobHandler creates a new job handler. processor may be nil, in which
// case process-one requests are rejected.
// Parameters:
//   - jobs: job store.
//   - processor: worker used for process-one requests.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs JobStore, processor JobProcessor) *JobHandler {
	return &JobHandler{jobs: jobs, processor: processor}
}

// EnqueueJobRequest is the body of POST /api/v1/jobs.
type EnqueueJobRequest struct {
	VisitID string  `json:"visit_id" binding:"required"`
	Path    string  `json:"path" binding:"required"`
	CacheID *string `json:"cache_id"`
}

// ProcessJobRequest is the optional body of POST /api/v1/jobs/:id/process.
type ProcessJobRequest struct {
	Simulate bool `json:"simulate"`
}

// ProcessJobResponse is returned by a process-one request.
type ProcessJobResponse struct {
	Job    *domain.Job       `json:"job"`
	Result *domain.JobResult `json:"result,omitempty"`
}

// Enqueue handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	visitID := strings.TrimSpace(req.VisitID)
	path := strings.TrimSpace(req.Path)
	if visitID == "" || path == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "visit_id and path are required",
		})
		return
	}

	job, err := h.jobs.Enqueue(c.Request.Context(), visitID, path, req.CacheID)
	if err != nil {
		writeError(c, err, "Failed to enqueue job")
		return
	}
	c.JSON(http.StatusCreated, job)
}

// Get handles GET /api/v1/jobs/:id.
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to load job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// Process handles POST /api/v1/jobs/:id/process. The body is optional.
// A pipeline failure responds 500 with the failed job attached.
func (h *JobHandler) Process(c *gin.Context) {
	if h.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "job processing is not enabled",
		})
		return
	}

	var req ProcessJobRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	job, result, err := h.processor.ProcessJob(ctx, c.Param("id"), req.Simulate)
	if err != nil {
		if job == nil {
			writeError(c, err, "Failed to claim job")
			return
		}
		if current, getErr := h.jobs.GetByID(ctx, job.ID); getErr == nil {
			job = current
		}
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
			"job":   job,
		})
		return
	}

	if current, getErr := h.jobs.GetByID(ctx, job.ID); getErr == nil {
		job = current
	}
	c.JSON(http.StatusOK, ProcessJobResponse{Job: job, Result: result})
}

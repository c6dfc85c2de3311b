package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/service"
)

// TranscriptQuerier lists transcripts by visit or patient.
type TranscriptQuerier interface {
	List(ctx context.Context, q service.TranscriptQuery) (*service.TranscriptListing, error)
}

// TranscriptHandler handles transcript endpoints.
type TranscriptHandler struct {
	transcripts TranscriptQuerier
}

// NewTranscriptHandler creates a new transcript handler.
func NewTranscriptHandler(transcripts TranscriptQuerier) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

// List handles GET /api/v1/transcripts?visit_id=...|patient_id=...
// visit_id wins when both are given.
func (h *TranscriptHandler) List(c *gin.Context) {
	listing, err := h.transcripts.List(c.Request.Context(), service.TranscriptQuery{
		VisitID:   c.Query("visit_id"),
		PatientID: c.Query("patient_id"),
	})
	if err != nil {
		writeError(c, err, "Failed to list transcripts")
		return
	}
	c.JSON(http.StatusOK, listing)
}

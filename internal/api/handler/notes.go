package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/service"
)

// NoteService is the visit note lifecycle used by NoteHandler.
type NoteService interface {
	AppendEntry(ctx context.Context, in service.AppendEntryInput) (*domain.VisitNoteEntry, error)
	GetNotes(ctx context.Context, visitID string) (*service.VisitNote, error)
	Sign(ctx context.Context, visitID string, signedBy *string) (*service.VisitNote, error)
}

// NoteHandler handles visit note endpoints.
type NoteHandler struct {
	notes NoteService
}

// NewNoteHandler creates a new note handler.
func NewNoteHandler(notes NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

// AppendEntryRequest is the body of POST /api/v1/visits/:visit_id/notes.
type AppendEntryRequest struct {
	Section  string  `json:"section" binding:"required"`
	Content  string  `json:"content" binding:"required"`
	Source   string  `json:"source"`
	AuthorID *string `json:"author_id"`
}

// SignRequest is the optional body of POST /api/v1/visits/:visit_id/notes/sign.
type SignRequest struct {
	SignedBy *string `json:"signed_by"`
}

// Get handles GET /api/v1/visits/:visit_id/notes.
func (h *NoteHandler) Get(c *gin.Context) {
	note, err := h.notes.GetNotes(c.Request.Context(), c.Param("visit_id"))
	if err != nil {
		writeError(c, err, "Failed to load visit note")
		return
	}
	c.JSON(http.StatusOK, note)
}

// Append handles POST /api/v1/visits/:visit_id/notes.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes the stored entry with 201, or 409 once signed).
func (h *NoteHandler) Append(c *gin.Context) {
	var req AppendEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	entry, err := h.notes.AppendEntry(c.Request.Context(), service.AppendEntryInput{
		VisitID:  c.Param("visit_id"),
		Section:  domain.Section(req.Section),
		Content:  req.Content,
		Source:   domain.EntrySource(req.Source),
		AuthorID: req.AuthorID,
	})
	if err != nil {
		writeError(c, err, "Failed to append note entry")
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Sign handles POST /api/v1/visits/:visit_id/notes/sign.
func (h *NoteHandler) Sign(c *gin.Context) {
	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	note, err := h.notes.Sign(c.Request.Context(), c.Param("visit_id"), req.SignedBy)
	if err != nil {
		writeError(c, err, "Failed to sign visit note")
		return
	}
	c.JSON(http.StatusOK, note)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/api/middleware"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/logger"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrVisitNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoteSigned),
		errors.Is(err, domain.ErrNoteAlreadySigned),
		errors.Is(err, domain.ErrJobNotClaimable),
		errors.Is(err, domain.ErrClaimLost):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidSection),
		errors.Is(err, domain.ErrInvalidSource),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrVisitIDRequired),
		errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with {"error": ...}. Server errors are logged and
// reported with the given prefix and the request ID.
func writeError(c *gin.Context, err error, prefix string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error(prefix)
		body := gin.H{"error": prefix + ": " + err.Error()}
		if id := logger.GetRequestID(c.Request.Context()); id != "" {
			body["request_id"] = id
		}
		c.JSON(status, body)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

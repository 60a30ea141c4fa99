package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// errBadRequest indicates malformed input (bad JSON, missing argument,
// unknown action).
var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor maps an error to its HTTP status and short error label.
// Outcomes a cache treats as normal (capacity, not found, backend down)
// map to 200 and are reported as success=false.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, cache.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, cache.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, cache.ErrCapacity):
		return http.StatusOK, "capacity_exhausted"
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusOK, "not_found"
	case errors.Is(err, cache.ErrBackendTimeout), errors.Is(err, cache.ErrBackendUnavailable):
		return http.StatusOK, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes the response for err and aborts the chain.
func (h *Handler) fail(c *gin.Context, err error) {
	status, label := statusFor(err)
	_ = c.Error(err)

	if status == http.StatusOK {
		c.AbortWithStatusJSON(status, gin.H{
			"success": false,
			"error":   label,
			"details": err.Error(),
		})
		return
	}

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("action", c.Query("action")).Msg("Request failed")
		// Internal details stay in the log.
		c.AbortWithStatusJSON(status, ErrorResponse{Error: label})
		return
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: label, Details: err.Error()})
}

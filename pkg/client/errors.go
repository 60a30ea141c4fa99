package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassOutcome represents a 200 response with success=false, such
	// as a missing key or an exhausted strategy.
	ErrorClassOutcome ErrorClass = "outcome"
)

// labelErrors maps server error labels to the package errors they stand for.
var labelErrors = map[string]error{
	"unauthorized":        auth.ErrUnauthorized,
	"forbidden":           auth.ErrForbidden,
	"validation_error":    cache.ErrValidation,
	"conflict":            cache.ErrConflict,
	"capacity_exhausted":  cache.ErrCapacity,
	"not_found":           cache.ErrNotFound,
	"backend_unavailable": cache.ErrBackendUnavailable,
}

// APIError is a failed API call. It unwraps to the matching cache or auth
// error, so errors.Is(err, cache.ErrNotFound) works across the wire.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Action     string
	Label      string
	Details    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("cache %s %s error (status %d): %s: %s",
			e.Action, e.ErrorClass, e.StatusCode, e.Label, e.Details)
	}
	return fmt.Sprintf("cache %s %s error (status %d): %s",
		e.Action, e.ErrorClass, e.StatusCode, e.Label)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return labelErrors[e.Label]
}

// classifyStatus categorizes a response status.
func classifyStatus(status int, success bool) ErrorClass {
	switch {
	case status >= http.StatusInternalServerError:
		return ErrorClassServer
	case status >= http.StatusBadRequest:
		return ErrorClassClient
	case !success:
		return ErrorClassOutcome
	default:
		return ""
	}
}

// classOf returns the class of an error returned by a single attempt.
func classOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// Client errors and outcomes repeat identically.
		return false
	}
}

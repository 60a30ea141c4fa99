package cache

import "errors"

// Errors returned by the cache. Callers match them with errors.Is; the
// returned values wrap them with operation details.
var (
	// ErrValidation indicates a malformed strategy config or missing field.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a strategy with the same id already exists.
	ErrConflict = errors.New("conflict")

	// ErrCapacity indicates the eviction engine could not free a slot
	// (TTL-only strategy where no entry carries a TTL).
	ErrCapacity = errors.New("capacity exhausted")

	// ErrNotFound indicates an unknown strategy, key, rule or suggestion.
	ErrNotFound = errors.New("not found")

	// ErrBackendTimeout indicates the value backend did not answer in time.
	// Reads treat it as a miss.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBackendUnavailable indicates the value backend refused the call,
	// typically because its circuit breaker is open.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendMiss is returned by a Backend that holds no value for a key.
	ErrBackendMiss = errors.New("backend miss")
)

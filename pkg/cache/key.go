package cache

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultKeyPrefix namespaces every key written to a shared backend.
const DefaultKeyPrefix = "cache"

// CacheKey identifies a value in a shared backend.
type CacheKey struct {
	// Prefix namespaces the deployment (DefaultKeyPrefix when empty).
	Prefix string

	// StrategyID is the owning strategy.
	StrategyID string

	// Key is the caller's key within the strategy.
	Key string
}

// String generates a deterministic backend key.
// Format: prefix:strategy:key
//
// Example:
//
//	cache:sessions:user:42
func (k CacheKey) String() string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return strings.Join([]string{prefix, k.StrategyID, k.Key}, ":")
}

// BuildKey composes a caller key from a resource name and parameters.
// Parameters are sorted so the same set always yields the same key.
//
// Example:
//
//	BuildKey("diary", map[string]string{"user": "42", "page": "1"})
//	// diary:page=1:user=42
func BuildKey(resource string, params map[string]string) string {
	parts := []string{strings.Trim(resource, ":")}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, params[name]))
	}

	return strings.Join(parts, ":")
}

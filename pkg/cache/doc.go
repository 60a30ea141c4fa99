// Package cache provides a strategy-bound in-process cache.
//
// Entries are stored under named strategies. A strategy bounds the number
// of entries, sets the default TTL and picks the eviction policy:
//
// - LRU evicts the entry read least recently
// - LFU evicts the entry with the fewest hits, oldest first on ties
// - TTL-only evicts the entry closest to expiry and refuses inserts when no
// entry carries a TTL
//
// # Basic Usage
//
//	manager := cache.NewManager()
//
//	_, err := manager.CreateStrategy(cache.StrategyConfig{
//		ID:             "sessions",
//		MaxEntries:     1000,
//		DefaultTTL:     5 * time.Minute,
//		EvictionPolicy: cache.PolicyLRU,
//	})
//
//	err = manager.Set(ctx, "sessions", "user:42", session, cache.SetOptions{
//		Tags: []string{"user:42"},
//	})
//
//	value, ok := manager.Get(ctx, "sessions", "user:42")
//	if !ok {
//		// Cache miss
//	}
//
// # Invalidation
//
//	// Glob over keys, '*' matches any substring
//	removed := manager.Invalidate(ctx, "sessions", "user:*")
//
//	// Entries carrying any of the tags
//	removed = manager.InvalidateByTags(ctx, "sessions", []string{"user:42"})
//
//	// Rules fire on mutation events
//	manager.AddInvalidationRule(cache.InvalidationRule{
//		StrategyID: "sessions",
//		Event:      "user.*",
//		Pattern:    "user:*",
//	})
//	manager.TriggerInvalidation(ctx, "user.updated")
//
// # Optimization Advisor
//
// GenerateOptimizations evaluates per-strategy stats against AdvisorConfig
// and returns suggestions such as increase_capacity or shorten_ttl. A
// suggestion is applied once with ApplyOptimization.
//
// # Shared Values
//
// WithBackend moves entry values into a Backend (Redis in package backend)
// while metadata stays in memory. Backend read failures are served as
// misses.
//
// # Metrics
//
// The manager exports Prometheus metrics:
//
//   - cache_hits_total{strategy} - Cache hits
//   - cache_misses_total{strategy} - Cache misses
//   - cache_evictions_total{strategy,policy} - Capacity evictions
//   - cache_invalidations_total{strategy,source} - Invalidated entries
//   - cache_expirations_total{strategy} - Expired entries removed
//   - cache_entries{strategy} - Current entries
//   - cache_rejected_sets_total{strategy} - Inserts refused for capacity
//   - cache_backend_errors_total{operation} - Backend failures
//   - cache_optimizations_applied_total{kind} - Applied suggestions
package cache

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks successful reads by strategy
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"strategy"},
	)

	// CacheMisses tracks reads that found no live entry
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"strategy"},
	)

	// CacheEvictions tracks capacity-driven removals
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of entries evicted to make room",
		},
		[]string{"strategy", "policy"},
	)

	// CacheInvalidations tracks caller-driven removals
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total number of entries removed by invalidation",
		},
		[]string{"strategy", "source"}, // "pattern", "tags", "rule"
	)

	// CacheExpirations tracks entries dropped after their TTL passed
	CacheExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_expirations_total",
			Help: "Total number of expired entries removed",
		},
		[]string{"strategy"},
	)

	// CacheEntries tracks live entries by strategy
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of live cache entries",
		},
		[]string{"strategy"},
	)

	// CacheRejectedSets tracks inserts refused for lack of an evictable entry
	CacheRejectedSets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_rejected_sets_total",
			Help: "Total number of sets refused because no entry could be evicted",
		},
		[]string{"strategy"},
	)

	// BackendErrors tracks value backend failures
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_backend_errors_total",
			Help: "Total number of value backend errors",
		},
		[]string{"operation"}, // "load", "store", "remove"
	)

	// OptimizationsApplied tracks advisor suggestions applied
	OptimizationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_optimizations_applied_total",
			Help: "Total number of optimization suggestions applied",
		},
		[]string{"kind"},
	)
)

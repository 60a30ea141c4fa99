// Package metrics provides the Prometheus registry, the /metrics handler
// and HTTP request instrumentation for the cache server.
// Domain metrics are defined in their respective packages (cache, backend)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sternrassler/strategy-cache/pkg/api"
)

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// Registry is the default Prometheus registry used by the cache server.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

var (
	// RequestsTotal tracks API requests by action and HTTP status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"action", "status"},
	)

	// RequestDuration tracks API request latency by action
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records RequestsTotal and RequestDuration. The action label is
// the action the API handler dispatched; other requests, including failed
// authentication and unknown actions, are labelled with their route
// pattern so caller input never becomes a label value.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		action := c.GetString(api.ActionKey)
		if action == "" {
			action = c.FullPath()
		}
		if action == "" {
			action = unmatchedRoute
		}
		RequestsTotal.WithLabelValues(action, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - cache_hits_total{strategy} (Counter): Successful reads
//   - cache_misses_total{strategy} (Counter): Reads without a live entry
//   - cache_evictions_total{strategy, policy} (Counter): Capacity evictions
//   - cache_invalidations_total{strategy, source} (Counter): Entries removed by pattern, tags or rule
//   - cache_expirations_total{strategy} (Counter): Expired entries removed
//   - cache_entries{strategy} (Gauge): Current entries
//   - cache_rejected_sets_total{strategy} (Counter): Sets refused for capacity
//   - cache_backend_errors_total{operation} (Counter): Value backend failures
//   - cache_optimizations_applied_total{kind} (Counter): Applied suggestions
//
// Backend Metrics (pkg/backend):
//   - cache_backend_operation_duration_seconds{operation} (Histogram): Redis call latency
//   - cache_backend_breaker_state (Gauge): 0=closed, 1=half-open, 2=open
//
// Janitor Metrics (pkg/janitor):
//   - cache_janitor_runs_total{job} (Counter): Scheduled job runs
//
// Request Metrics (pkg/metrics):
//   - cache_api_requests_total{action, status} (Counter): API requests
//   - cache_api_request_duration_seconds{action} (Histogram): API latency
//
// Client Metrics (pkg/client, in the calling process):
//   - cache_client_requests_total{action, status} (Counter)
//   - cache_client_request_duration_seconds{action} (Histogram)
//   - cache_client_errors_total{class} (Counter)
//   - cache_client_retries_total{error_class} (Counter)
//   - cache_client_retry_backoff_seconds{error_class} (Histogram)
//   - cache_client_retry_exhausted_total{error_class} (Counter)
//
// Example Prometheus Queries:
//
//   # Hit Rate per Strategy
//   sum by (strategy) (rate(cache_hits_total[5m])) /
//   (sum by (strategy) (rate(cache_hits_total[5m])) + sum by (strategy) (rate(cache_misses_total[5m])))
//
//   # Eviction Pressure
//   sum by (strategy) (rate(cache_evictions_total[5m]))
//
//   # Backend Breaker Open
//   cache_backend_breaker_state == 2
//
//   # P95 API Latency
//   histogram_quantile(0.95, rate(cache_api_request_duration_seconds_bucket[5m]))

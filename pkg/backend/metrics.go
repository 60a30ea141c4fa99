package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks Redis call latency by operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_backend_operation_duration_seconds",
			Help:    "Duration of value backend operations",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"}, // "load", "store", "remove"
	)

	// BreakerState tracks the circuit breaker (0=closed, 1=half-open, 2=open)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_backend_breaker_state",
			Help: "Circuit breaker state of the value backend (0=closed, 1=half-open, 2=open)",
		},
	)
)

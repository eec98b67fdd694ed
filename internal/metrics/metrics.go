package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlansCompiled counts compiled query plans by access path.
	PlansCompiled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynaquery_plans_compiled_total",
			Help: "Total number of query plans compiled",
		},
		[]string{"access_path"},
	)
	// StoreRequests counts requests sent to the store by operation and outcome.
	StoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynaquery_store_requests_total",
			Help: "Total number of store requests",
		},
		[]string{"operation", "outcome"},
	)
	// StoreRequestDuration is the latency of store requests.
	StoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dynaquery_store_request_duration_seconds",
			Help:    "Store request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	// BatchChunks counts batch chunks by operation and outcome.
	BatchChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynaquery_batch_chunks_total",
			Help: "Total number of batch chunks dispatched",
		},
		[]string{"operation", "outcome"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePlan records a compiled plan.
func ObservePlan(accessPath string) {
	PlansCompiled.WithLabelValues(accessPath).Inc()
}

// ObserveRequest records one store request that started at start.
func ObserveRequest(operation string, start time.Time, err error) {
	StoreRequests.WithLabelValues(operation, outcome(err)).Inc()
	StoreRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveChunk records one finished batch chunk.
func ObserveChunk(operation string, err error) {
	BatchChunks.WithLabelValues(operation, outcome(err)).Inc()
}

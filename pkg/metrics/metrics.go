// Package metrics provides Prometheus instrumentation for finlake.
//
// # Basic Usage
//
//	metrics.FetchRequests.WithLabelValues("bcb", metrics.OutcomeMiss).Inc()
//
//	timer := metrics.NewTimer("save_curated")
//	path, err := writer.SaveCurated(...)
//	metrics.LakeWriteLatency.WithLabelValues("curated").Observe(timer.Stop().Seconds())
//
// All collectors register with the default Prometheus registry, exposed by
// Handler for the CLI's --metrics-addr endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeHit   = "cache_hit"
	OutcomeMiss  = "fetched"
	OutcomeError = "error"
)

var (
	// FetchRequests counts protected fetches by source and outcome.
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_fetch_requests_total",
			Help: "Protected fetches by outcome",
		},
		[]string{"source", "outcome"},
	)

	// FetchLatency tracks end-to-end fetch duration including waits.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finlake_fetch_duration_seconds",
			Help:    "Protected fetch duration in seconds, including rate-limit and pacing waits",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	// RateLimitWait tracks time spent blocked on admission.
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finlake_rate_limit_wait_seconds",
			Help:    "Time spent waiting for rate limiter admission",
			Buckets: []float64{0, 0.1, 1, 5, 15, 30, 60},
		},
		[]string{"source"},
	)

	// PacingDelay tracks jittered inter-request delays.
	PacingDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finlake_pacing_delay_seconds",
			Help:    "Jittered delay inserted before outbound requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 3, 4, 5},
		},
		[]string{"source"},
	)

	// Retries counts retried attempts.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_fetch_retries_total",
			Help: "Retried fetch attempts",
		},
		[]string{"source"},
	)

	// HTTPRequests counts outbound HTTP requests by host and status class.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_http_requests_total",
			Help: "Outbound HTTP requests",
		},
		[]string{"host", "status"},
	)

	// HTTPLatency tracks outbound HTTP round trips.
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finlake_http_request_duration_seconds",
			Help:    "Outbound HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// CacheOperations counts response cache operations.
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_cache_operations_total",
			Help: "Response cache operations by result",
		},
		[]string{"op", "result"},
	)

	// LakeWrites counts lake writes by artifact kind and status.
	LakeWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_lake_writes_total",
			Help: "Lake writes by kind (raw, curated, manifest)",
		},
		[]string{"kind", "status"},
	)

	// LakeBytes counts bytes written to the lake.
	LakeBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_lake_bytes_written_total",
			Help: "Bytes written to the lake",
		},
		[]string{"kind"},
	)

	// LakeWriteLatency tracks lake write duration.
	LakeWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finlake_lake_write_duration_seconds",
			Help:    "Lake write duration",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"kind"},
	)

	// DatasetsIngested counts dataset ingestions by status.
	DatasetsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_datasets_ingested_total",
			Help: "Dataset ingestions by source and status",
		},
		[]string{"source", "status"},
	)

	// RowsIngested counts curated rows written.
	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_rows_ingested_total",
			Help: "Curated rows written by source",
		},
		[]string{"source"},
	)

	// SyncFiles counts remote sync decisions.
	SyncFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finlake_sync_files_total",
			Help: "Remote sync file results (uploaded, skipped, error)",
		},
		[]string{"backend", "result"},
	)
)

// Handler returns the promhttp handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Package metrics exposes Prometheus instrumentation for the query pipeline,
// the cache, and the session layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rustbase_connections_active",
			Help: "Number of currently open client connections",
		},
	)

	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rustbase_connections_total",
			Help: "Total number of accepted client connections",
		},
	)

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rustbase_auth_failures_total",
			Help: "Total number of failed SCRAM handshakes",
		},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rustbase_queries_total",
			Help: "Total number of executed query statements by status",
		},
		[]string{"status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rustbase_query_duration_seconds",
			Help:    "Time taken to execute a parsed query on the worker pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rustbase_cache_hits_total",
			Help: "Total number of cache hits on get",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rustbase_cache_misses_total",
			Help: "Total number of cache misses on get",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rustbase_cache_evictions_total",
			Help: "Total number of entries evicted from the cache",
		},
	)

	CacheBytesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rustbase_cache_bytes_in_use",
			Help: "Current number of bytes held by the cache",
		},
	)

	DatabasesOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rustbase_databases_open",
			Help: "Number of open per-database storage handles, excluding _default",
		},
	)

	WorkerPoolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rustbase_worker_pool_queue_depth",
			Help: "Number of parsed queries waiting for a free worker",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsTotal,
		AuthFailuresTotal,
		QueriesTotal,
		QueryDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		CacheBytesInUse,
		DatabasesOpen,
		WorkerPoolQueueDepth,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Pipeline metrics
	RunsTotal             *prometheus.CounterVec
	RunDuration           *prometheus.HistogramVec
	ObservationsProcessed prometheus.Counter
	DuplicatesDropped     prometheus.Counter
	RowsOutOfBand         *prometheus.CounterVec
	ValidationFailures    prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Stream metrics
	StreamClients prometheus.Gauge

	// Health metrics
	LastSuccessfulRun prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses a fresh registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "price_bands"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of band runs by level and status",
		}, []string{"level", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Band run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"level"}),
		ObservationsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "observations_processed_total",
			Help:      "Total number of observations evaluated after deduplication",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of duplicate (group, timestamp) observations dropped",
		}),
		RowsOutOfBand: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_out_of_band_total",
			Help:      "Total number of rows outside the previous band",
		}, []string{"level"}),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "validation_failures_total",
			Help:      "Total number of inputs rejected as malformed",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of band cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of band cache misses",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Number of connected run stream clients",
		}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of the last successful run",
		}),
		gatherer: reg,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(level, status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(level, status).Inc()
	m.RunDuration.WithLabelValues(level).Observe(duration.Seconds())
	if status != "failed" {
		m.LastSuccessfulRun.SetToCurrentTime()
	}
}

// RecordRows records the outcome of a band computation.
func (m *Metrics) RecordRows(level string, observations, duplicates, outOfBand int) {
	m.ObservationsProcessed.Add(float64(observations))
	m.DuplicatesDropped.Add(float64(duplicates))
	m.RowsOutOfBand.WithLabelValues(level).Add(float64(outOfBand))
}

// RecordCache records a cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

package acquire

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry so several
// services can coexist in one process (and in tests).
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	devicePages    prometheus.Counter
	deviceEvicted  prometheus.Counter
	deviceFallback *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	runDuration    prometheus.Histogram
}

// NewMetrics registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigie_runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigie_fetch_total",
			Help: "Resource acquisitions by resource and serving source.",
		}, []string{"resource", "source"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigie_fetch_failures_total",
			Help: "Network failures seen while fetching, by failure class.",
		}, []string{"class"}),
		devicePages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigie_device_pages_total",
			Help: "Device-search pages appended from the live API.",
		}),
		deviceEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigie_device_credentials_evicted_total",
			Help: "Credentials evicted after quota exhaustion.",
		}),
		deviceFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigie_device_fallbacks_total",
			Help: "Device searches served from the snapshot, by reason.",
		}, []string{"reason"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigie_rows_written_total",
			Help: "Rows written to canonical tables.",
		}, []string{"table"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigie_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.runs, m.fetches, m.fetchFailures,
		m.devicePages, m.deviceEvicted, m.deviceFallback,
		m.rowsWritten, m.runDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

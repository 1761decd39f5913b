package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Ingest metrics
	MemoriesStored     *prometheus.CounterVec
	ExtractionLatency  prometheus.Histogram
	ExtractionFailures *prometheus.CounterVec

	// Conflict metrics
	ConflictsDetected *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec

	// Search metrics
	SearchRequests prometheus.Counter
	SearchLatency  prometheus.Histogram

	// LLM metrics
	LLMRequests *prometheus.CounterVec
	LLMLatency  prometheus.Histogram
}

var globalMetrics *Metrics

// Init initializes the Prometheus metrics
func Init() *Metrics {
	metrics := &Metrics{
		// Stored memories by final outcome (created, merged, replaced, ...)
		MemoriesStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harmonia_memories_stored_total",
			Help: "Total number of memory store operations by outcome",
		}, []string{"action"}),

		ExtractionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harmonia_extraction_duration_seconds",
			Help:    "End-to-end extraction pipeline latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // LLM calls can take seconds
		}),

		ExtractionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harmonia_extraction_failures_total",
			Help: "Total number of extraction failures by step",
		}, []string{"step"}),

		ConflictsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harmonia_conflicts_detected_total",
			Help: "Total number of detected conflicts by type",
		}, []string{"conflict_type"}),

		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harmonia_conflict_resolutions_total",
			Help: "Total number of conflict resolutions by strategy",
		}, []string{"strategy"}),

		SearchRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "harmonia_search_requests_total",
			Help: "Total number of search requests processed",
		}),

		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harmonia_search_duration_seconds",
			Help:    "Search request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harmonia_llm_requests_total",
			Help: "Total number of LLM requests by result",
		}, []string{"result"}),

		LLMLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harmonia_llm_request_duration_seconds",
			Help:    "LLM request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}

	globalMetrics = metrics
	return metrics
}

// Get returns the global metrics instance. It is nil before Init; the
// Record methods treat a nil receiver as a no-op so library code and tests
// can record unconditionally.
func Get() *Metrics {
	return globalMetrics
}

// RecordStore records one memory store outcome.
func (m *Metrics) RecordStore(action string) {
	if m == nil {
		return
	}
	m.MemoriesStored.WithLabelValues(action).Inc()
}

// RecordExtraction records pipeline latency.
func (m *Metrics) RecordExtraction(seconds float64) {
	if m == nil {
		return
	}
	m.ExtractionLatency.Observe(seconds)
}

// RecordExtractionFailure records a failed pipeline step.
func (m *Metrics) RecordExtractionFailure(step string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(step).Inc()
}

// RecordConflict records a detected conflict.
func (m *Metrics) RecordConflict(conflictType string) {
	if m == nil {
		return
	}
	m.ConflictsDetected.WithLabelValues(conflictType).Inc()
}

// RecordResolution records an applied resolution strategy.
func (m *Metrics) RecordResolution(strategy string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(strategy).Inc()
}

// RecordSearch records one search request and its latency.
func (m *Metrics) RecordSearch(seconds float64) {
	if m == nil {
		return
	}
	m.SearchRequests.Inc()
	m.SearchLatency.Observe(seconds)
}

// RecordLLMRequest records one LLM round trip.
func (m *Metrics) RecordLLMRequest(result string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(result).Inc()
	m.LLMLatency.Observe(seconds)
}

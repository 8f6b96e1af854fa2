// Package metrics defines Engram's Prometheus instrumentation: gauges for
// the store's row counts, histograms for the extraction/recollection/search
// hot paths, and counters for outcomes an operator would want a rate() on.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store gauges, refreshed by Collector on each tick.
	ChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_chunks_total",
			Help: "Total number of chunk rows in the store",
		},
	)

	EpisodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_episodes_total",
			Help: "Total number of episode rows in the store",
		},
	)

	GraduatedEpisodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_graduated_episodes_total",
			Help: "Total number of episodes promoted to a project's MEMORY.md",
		},
	)

	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_projects_total",
			Help: "Total number of distinct projects tracked in the store",
		},
	)

	TailersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_tailers_active",
			Help: "Number of session transcripts currently being tailed",
		},
	)

	// Extraction pipeline.
	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "engram_extraction_duration_seconds",
			Help: "Time taken for one extraction batch, including the LLM call",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_extractions_total",
			Help: "Total extraction batches by outcome",
		},
		[]string{"outcome"},
	)

	// Recollection pipeline.
	RecollectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "engram_recollection_duration_seconds",
			Help: "Time taken to recompute a recollection for a message",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecollectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_recollections_total",
			Help: "Total recollection recomputations by outcome",
		},
		[]string{"outcome"},
	)

	// Retrieval / query server.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "engram_search_duration_seconds",
			Help: "Time taken for a hybrid BM25/vector search",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_search_requests_total",
			Help: "Total search requests by outcome",
		},
		[]string{"outcome"},
	)

	// Embedding provider calls (pkg/embedding.Chain).
	EmbeddingCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "engram_embedding_call_duration_seconds",
			Help: "Time taken for an embedding provider call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EmbeddingCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_embedding_calls_total",
			Help: "Total embedding provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Consolidation.
	ConsolidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "engram_consolidation_duration_seconds",
			Help: "Time taken for one consolidation pass",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	ConsolidationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engram_consolidation_cycles_total",
			Help: "Total consolidation cycles completed",
		},
	)

	// Daemon maintenance loop.
	MaintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "engram_maintenance_duration_seconds",
			Help: "Time taken for one daemon maintenance pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	TailerEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_tailer_evictions_total",
			Help: "Total tailers evicted by the maintenance pass, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		ChunksTotal,
		EpisodesTotal,
		GraduatedEpisodesTotal,
		ProjectsTotal,
		TailersActive,
		ExtractionDuration,
		ExtractionsTotal,
		RecollectionDuration,
		RecollectionsTotal,
		SearchDuration,
		SearchRequestsTotal,
		EmbeddingCallDuration,
		EmbeddingCallsTotal,
		ConsolidationDuration,
		ConsolidationCyclesTotal,
		MaintenanceDuration,
		TailerEvictionsTotal,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and feeding the result to
// a histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

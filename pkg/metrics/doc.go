/*
Package metrics defines and registers Engram's Prometheus instrumentation
and exposes it over its own small HTTP mux. Metrics are package-level
gauge/counter/histogram vars registered in init(), one per pipeline
stage (extraction, recollection, retrieval, embedding, consolidation,
maintenance) plus a handful of store-row-count gauges.

# Metrics catalog

Store gauges, refreshed every 15s by Collector:

	engram_chunks_total
	engram_episodes_total
	engram_graduated_episodes_total
	engram_projects_total
	engram_tailers_active

Extraction:

	engram_extraction_duration_seconds (histogram)
	engram_extractions_total{outcome} (counter)

Recollection:

	engram_recollection_duration_seconds (histogram)
	engram_recollections_total{outcome} (counter)

Retrieval:

	engram_search_duration_seconds (histogram)
	engram_search_requests_total{outcome} (counter)

Embedding provider calls:

	engram_embedding_call_duration_seconds{provider} (histogram)
	engram_embedding_calls_total{provider,outcome} (counter)

Consolidation:

	engram_consolidation_duration_seconds (histogram)
	engram_consolidation_cycles_total (counter)

Daemon maintenance pass:

	engram_maintenance_duration_seconds (histogram)
	engram_tailer_evictions_total{reason} (counter)

The store gauges are set by Collector and the maintenance metrics by
pkg/daemon. The extraction, recollection, retrieval, embedding and
consolidation metrics are registered and exported, but no package in
this module records into them.

# Usage

	timer := metrics.NewTimer()
	_, err := ex.Run(ctx, sessionID, previousSummary, messages, project, sourceType, isRoot)
	timer.ObserveDuration(metrics.ExtractionDuration)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.ExtractionsTotal.WithLabelValues("ok").Inc()
	}

Exposition is a plain http.Handler, mounted by whichever binary wants to
serve it:

	mux.Handle("/metrics", metrics.Handler())
*/
package metrics

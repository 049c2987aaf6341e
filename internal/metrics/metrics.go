// Package metrics holds the Prometheus collectors for ingestion and enrichment.
// Collectors register on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	ConversationsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_conversations_ingested_total",
		Help: "Total number of conversations written by ingestion",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_decode_errors_total",
		Help: "Total number of export records skipped because they failed to decode",
	})

	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatvault_ingest_runs_total",
		Help: "Total number of ingestion runs by outcome",
	}, []string{"status"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatvault_ingest_duration_seconds",
		Help:    "Duration of ingestion runs in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// Enrichment
	EnrichRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatvault_enrich_runs_total",
		Help: "Total number of enrichment runs by outcome",
	}, []string{"status"})

	BatchPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_batch_polls_total",
		Help: "Total number of batch status polls",
	})

	EnrichmentsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_enrichments_applied_total",
		Help: "Total number of conversations updated from batch results",
	})

	ResultsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatvault_batch_results_skipped_total",
		Help: "Total number of batch result lines not applied, by reason",
	}, []string{"reason"})

	EnrichInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatvault_enrich_in_flight",
		Help: "Number of enrichment runs currently in progress",
	})
)

// RecordIngest records the outcome and duration of an ingestion run.
func RecordIngest(status string, d time.Duration) {
	IngestRuns.WithLabelValues(status).Inc()
	IngestDuration.Observe(d.Seconds())
}

// RecordEnrich records the outcome of an enrichment run.
func RecordEnrich(status string) {
	EnrichRuns.WithLabelValues(status).Inc()
}

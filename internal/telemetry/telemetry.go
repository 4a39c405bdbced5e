// Package telemetry exposes the service's prometheus collectors.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcome label values.
const (
	OutcomeIngested = "ingested"
	OutcomeSkipped  = "skipped"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
)

// Telemetry bundles the collectors shared by the pipeline and the router.
type Telemetry struct {
	DocumentsProcessed *prometheus.CounterVec
	ChunksStored       prometheus.Counter
	BatchFailures      prometheus.Counter
	ChatTurns          *prometheus.CounterVec
	ChatTurnDuration   prometheus.Histogram
}

// New registers all collectors on the default registry.
func New() *Telemetry {
	return &Telemetry{
		DocumentsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raymondo_ingest_documents_total",
			Help: "Documents handled by the ingestion pipeline, by outcome.",
		}, []string{"outcome"}),
		ChunksStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raymondo_ingest_chunks_stored_total",
			Help: "Chunks durably stored in the vector index.",
		}),
		BatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raymondo_ingest_batch_failures_total",
			Help: "Embed/store batches skipped after a failure.",
		}),
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raymondo_chat_turns_total",
			Help: "Chat turns answered, by knowledge source and status.",
		}, []string{"source", "status"}),
		ChatTurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raymondo_chat_turn_duration_seconds",
			Help:    "Wall time per answered chat turn.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}

// ObserveDocument records the outcome of one pipeline run.
func (t *Telemetry) ObserveDocument(outcome string) {
	if t == nil {
		return
	}
	t.DocumentsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveChunksStored records n chunks written to the vector index.
func (t *Telemetry) ObserveChunksStored(n int) {
	if t == nil {
		return
	}
	t.ChunksStored.Add(float64(n))
}

// ObserveBatchFailure records a skipped embed/store batch.
func (t *Telemetry) ObserveBatchFailure() {
	if t == nil {
		return
	}
	t.BatchFailures.Inc()
}

// ObserveTurn records one completed chat turn.
func (t *Telemetry) ObserveTurn(source, status string, d time.Duration) {
	if t == nil {
		return
	}
	t.ChatTurns.WithLabelValues(source, status).Inc()
	t.ChatTurnDuration.Observe(d.Seconds())
}

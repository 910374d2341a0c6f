// Package observability wires Prometheus metrics and OpenTelemetry
// tracing for the retrieval core.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the core's instrument set. A nil *Metrics is valid and
// records nothing, so call sites never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	retrievalDuration *prometheus.HistogramVec
	retrievalTotal    *prometheus.CounterVec
	topKClamped       prometheus.Counter
	chunksIndexed     prometheus.Counter
	chunksFailed      prometheus.Counter
	hitsTrimmed       prometheus.Counter
	documentsIngested prometheus.Counter
}

// NewMetrics registers the instrument set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		retrievalDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tessera_retrieval_duration_seconds",
			Help:    "Retrieval latency by strategy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"retriever"}),
		retrievalTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_retrievals_total",
			Help: "Retrieval requests by strategy and outcome.",
		}, []string{"retriever", "outcome"}),
		topKClamped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessera_top_k_clamped_total",
			Help: "Requests whose top_k was clamped into the allowed range.",
		}),
		chunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessera_chunks_indexed_total",
			Help: "Chunks that reached the indexed state.",
		}),
		chunksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessera_chunks_failed_total",
			Help: "Chunks that entered the failed state.",
		}),
		hitsTrimmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessera_hits_trimmed_total",
			Help: "Hits removed by security trimming.",
		}),
		documentsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessera_documents_ingested_total",
			Help: "Documents accepted for ingestion.",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRetrieval records one retrieval request.
func (m *Metrics) ObserveRetrieval(retriever string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.retrievalDuration.WithLabelValues(retriever).Observe(elapsed.Seconds())
	m.retrievalTotal.WithLabelValues(retriever, outcome).Inc()
}

// TopKClamped records a request whose top_k was out of range.
func (m *Metrics) TopKClamped() {
	if m == nil {
		return
	}
	m.topKClamped.Inc()
}

// IndexingReport records the outcome of one indexing run.
func (m *Metrics) IndexingReport(indexed, failed int) {
	if m == nil {
		return
	}
	m.chunksIndexed.Add(float64(indexed))
	m.chunksFailed.Add(float64(failed))
}

// HitsTrimmed records hits dropped by security trimming.
func (m *Metrics) HitsTrimmed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.hitsTrimmed.Add(float64(n))
}

// DocumentIngested records one accepted ingestion.
func (m *Metrics) DocumentIngested() {
	if m == nil {
		return
	}
	m.documentsIngested.Inc()
}

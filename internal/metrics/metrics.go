// Package metrics exports search and embedding metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meetsearch"

// Recorder holds the service's collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	searchDuration    *prometheus.HistogramVec
	meetingsSearched  prometheus.Histogram
	embeddingRequests *prometheus.CounterVec
	indexedSegments   *prometheus.CounterVec
}

// New creates a Recorder. A nil registry creates a fresh one.
func New(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Recorder{registry: registry}

	r.searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"scope", "embedding"},
	)

	r.meetingsSearched = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "meetings_searched",
			Help:      "Number of meetings fanned out to per project search",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	r.embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls by outcome",
		},
		[]string{"outcome"},
	)

	r.indexedSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_segments_total",
			Help:      "Transcript segments written by the indexer",
		},
		[]string{"embedded"},
	)

	registry.MustRegister(
		r.searchDuration,
		r.meetingsSearched,
		r.embeddingRequests,
		r.indexedSegments,
	)

	return r
}

// ObserveSearch records one completed search.
func (r *Recorder) ObserveSearch(scope string, embeddingUsed bool, d time.Duration) {
	r.searchDuration.WithLabelValues(scope, boolLabel(embeddingUsed)).Observe(d.Seconds())
}

// ObserveMeetingsSearched records the fan-out width of a project search.
func (r *Recorder) ObserveMeetingsSearched(n int) {
	r.meetingsSearched.Observe(float64(n))
}

// ObserveEmbedding counts one embedding outcome. It matches the observer
// signature accepted by ai.WithObserver.
func (r *Recorder) ObserveEmbedding(outcome string) {
	r.embeddingRequests.WithLabelValues(outcome).Inc()
}

// ObserveIndexed counts a written segment.
func (r *Recorder) ObserveIndexed(embedded bool) {
	r.indexedSegments.WithLabelValues(boolLabel(embedded)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

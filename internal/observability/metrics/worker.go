package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

// Profile origins used as the "origin" label on indexing metrics.
const (
	OriginProfile = "profile"
	OriginCV      = "cv"
	OriginUnknown = "unknown"
)

// WorkerMetrics tracks the indexing worker. It owns its registry so the
// worker can expose it on a dedicated port.
type WorkerMetrics struct {
	registry *prometheus.Registry

	indexed      *prometheus.CounterVec
	indexLatency *prometheus.HistogramVec
	indexing     prometheus.Gauge
	ingestLag    *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &WorkerMetrics{
		registry: prometheus.NewRegistry(),
		indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "indexer",
			Name:        "experts_total",
			Help:        "Expert profiles processed by the indexer, by profile origin and outcome.",
			ConstLabels: labels,
		}, []string{"origin", "outcome"}),
		indexLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "indexer",
			Name:        "embed_and_store_seconds",
			Help:        "Time to embed one profile and write it to the vector and graph stores.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: labels,
		}, []string{"origin"}),
		indexing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "indexer",
			Name:        "experts_in_progress",
			Help:        "Profiles currently being indexed.",
			ConstLabels: labels,
		}),
		ingestLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "indexer",
			Name:        "ingest_lag_seconds",
			Help:        "Delay between a profile write and the start of its indexing.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: labels,
		}, []string{"origin"}),
	}
	m.registry.MustRegister(m.indexed, m.indexLatency, m.indexing, m.ingestLag)
	return m
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ProfileOrigin reports whether a profile is indexed from an attached CV or from
// registration fields only.
func ProfileOrigin(profile *domain.ExpertProfile) string {
	if profile == nil {
		return OriginUnknown
	}
	if strings.TrimSpace(profile.CVPath) != "" {
		return OriginCV
	}
	return OriginProfile
}

// ObserveIngestLag records how long the profile waited in the queue.
// Profiles without an update time are skipped.
func (m *WorkerMetrics) ObserveIngestLag(profile *domain.ExpertProfile, now time.Time) {
	if profile == nil || profile.UpdatedAt.IsZero() {
		return
	}
	lag := now.Sub(profile.UpdatedAt)
	if lag < 0 {
		return
	}
	m.ingestLag.WithLabelValues(ProfileOrigin(profile)).Observe(lag.Seconds())
}

// TrackIndex marks one profile as in progress. The returned func records the
// outcome and must be called exactly once.
func (m *WorkerMetrics) TrackIndex(origin string) func(err error) {
	m.indexing.Inc()
	start := time.Now()
	return func(err error) {
		m.indexing.Dec()
		m.indexed.WithLabelValues(origin, indexOutcome(err)).Inc()
		m.indexLatency.WithLabelValues(origin).Observe(time.Since(start).Seconds())
	}
}

func indexOutcome(err error) string {
	switch {
	case err == nil:
		return "indexed"
	case domain.IsKind(err, domain.ErrExpertNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case domain.IsKind(err, domain.ErrTemporary):
		return "retryable"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "failed"
	}
}

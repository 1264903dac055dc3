package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

func TestPipelineMetricsRecordsTraceSteps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics("api", reg)

	trace := &domain.ExecutionTrace{
		TotalDurationMs: 1200,
		Steps: []domain.ExecutionStep{
			{Name: "vector_search", Status: domain.StepSuccess, DurationMs: 30},
			{Name: "graph_search", Status: domain.StepFailed, DurationMs: 5000},
			{Name: "plain_generation", Status: domain.StepSuccess, DurationMs: 800, LLMModel: "llama3.1:8b", TokenUsage: domain.NewTokenUsage(120, 40)},
		},
	}
	m.ObservePipeline(trace, domain.QuerySummary{
		Intent:                domain.IntentExpertSearch,
		Pattern:               domain.PatternPlain,
		PatternFallbackReason: "too few experts",
		CandidatesFound:       3,
	})

	if got := testutil.ToFloat64(m.sourceOutcomes.WithLabelValues("api", "graph", "failed")); got != 1 {
		t.Fatalf("expected one failed graph outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.tokensTotal.WithLabelValues("api", "in", "llama3.1:8b")); got != 120 {
		t.Fatalf("expected 120 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.patternFallbacks.WithLabelValues("api")); got != 1 {
		t.Fatalf("expected one fallback, got %v", got)
	}
	if got := testutil.CollectAndCount(m.stepDuration); got != 3 {
		t.Fatalf("expected 3 step series, got %d", got)
	}
}

func TestPipelineMetricsToleratesNilTrace(t *testing.T) {
	m := NewPipelineMetrics("api", prometheus.NewRegistry())
	m.ObservePipeline(nil, domain.QuerySummary{})
	if got := testutil.ToFloat64(m.queriesTotal.WithLabelValues("api", "unknown", string(domain.PatternPlain))); got != 1 {
		t.Fatalf("expected query counted, got %v", got)
	}
}

func TestBreakerMetricsTracksState(t *testing.T) {
	m := NewBreakerMetrics("api", prometheus.NewRegistry())
	m.ObserveStateChange("ollama.generate", gobreaker.StateClosed, gobreaker.StateOpen)
	if got := testutil.ToFloat64(m.state.WithLabelValues("api", "ollama.generate")); got != 2 {
		t.Fatalf("expected open state 2, got %v", got)
	}
	m.ObserveStateChange("ollama.generate", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	if got := testutil.ToFloat64(m.state.WithLabelValues("api", "ollama.generate")); got != 1 {
		t.Fatalf("expected half-open state 1, got %v", got)
	}
}

func TestHTTPMiddlewareNormalizesExpertPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, path := range []string{"/v1/experts/e-1", "/v1/experts/e-2"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/experts/{id}", "404")); got != 2 {
		t.Fatalf("expected 2 normalized requests, got %v", got)
	}
	if normalizePath("/v1/experts/e-1/cv") != "/v1/experts/{id}/cv" {
		t.Fatalf("unexpected cv path normalization")
	}
}

func TestWorkerMetricsLabelsByOriginAndOutcome(t *testing.T) {
	m := NewWorkerMetrics("worker")

	cvProfile := &domain.ExpertProfile{ID: "e-1", CVPath: "cv/e-1.pdf", UpdatedAt: time.Now().Add(-3 * time.Second)}
	m.TrackIndex(ProfileOrigin(cvProfile))(nil)
	m.TrackIndex(OriginProfile)(domain.WrapError(domain.ErrEmbeddingUnavailable, "embed", errors.New("ollama down")))
	m.TrackIndex(OriginProfile)(errors.New("boom"))
	m.ObserveIngestLag(cvProfile, time.Now())
	m.ObserveIngestLag(&domain.ExpertProfile{}, time.Now())

	tests := []struct {
		origin  string
		outcome string
		want    float64
	}{
		{OriginCV, "indexed", 1},
		{OriginProfile, "embedding_unavailable", 1},
		{OriginProfile, "failed", 1},
		{OriginProfile, "indexed", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.indexed.WithLabelValues(tt.origin, tt.outcome)); got != tt.want {
			t.Errorf("experts_total{origin=%s,outcome=%s} = %v, want %v", tt.origin, tt.outcome, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(m.indexing); got != 0 {
		t.Fatalf("expected no profiles in progress, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ingestLag); got != 1 {
		t.Fatalf("expected lag only for the cv origin, got %d series", got)
	}
}

func TestProfileOrigin(t *testing.T) {
	if got := ProfileOrigin(nil); got != OriginUnknown {
		t.Fatalf("nil profile origin = %q", got)
	}
	if got := ProfileOrigin(&domain.ExpertProfile{ID: "e-2"}); got != OriginProfile {
		t.Fatalf("profile without cv origin = %q", got)
	}
}

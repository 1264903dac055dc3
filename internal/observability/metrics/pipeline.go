package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

var retrievalSteps = map[string]domain.SourceName{
	"vector_search":  domain.SourceVector,
	"graph_search":   domain.SourceGraph,
	"keyword_search": domain.SourceKeyword,
}

// PipelineMetrics records per-query pipeline outcomes from the finished execution trace.
type PipelineMetrics struct {
	service string

	queriesTotal     *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	sourceOutcomes   *prometheus.CounterVec
	candidates       *prometheus.HistogramVec
	deepIterations   *prometheus.HistogramVec
	patternFallbacks *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	historyMessages  *prometheus.HistogramVec
}

func NewPipelineMetrics(service string, reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		service: service,
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Processed queries by intent and pattern.",
		}, []string{"service", "intent", "pattern"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration by step and status.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service", "step", "status"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM token usage by direction and model.",
		}, []string{"service", "direction", "model"}),
		sourceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "source_outcomes_total",
			Help:      "Retrieval source executions by outcome.",
		}, []string{"service", "source", "status"}),
		candidates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "candidates",
			Help:      "Fused expert candidates per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"service"}),
		deepIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deep_research",
			Name:      "iterations",
			Help:      "Deep research iterations per query.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		}, []string{"service"}),
		patternFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pattern_fallbacks_total",
			Help:      "Requested reasoning patterns that fell back to PLAIN.",
		}, []string{"service"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration by pattern.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"service", "pattern"}),
		historyMessages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "messages",
			Help:      "Chat history messages passed to generation.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}, []string{"service"}),
	}
	reg.MustRegister(
		m.queriesTotal,
		m.stepDuration,
		m.tokensTotal,
		m.sourceOutcomes,
		m.candidates,
		m.deepIterations,
		m.patternFallbacks,
		m.queryDuration,
		m.historyMessages,
	)
	return m
}

func (m *PipelineMetrics) ObservePipeline(trace *domain.ExecutionTrace, summary domain.QuerySummary) {
	pattern := string(summary.Pattern)
	if pattern == "" {
		pattern = string(domain.PatternPlain)
	}
	intent := string(summary.Intent)
	if intent == "" {
		intent = "unknown"
	}
	m.queriesTotal.WithLabelValues(m.service, intent, pattern).Inc()
	m.candidates.WithLabelValues(m.service).Observe(float64(summary.CandidatesFound))
	m.historyMessages.WithLabelValues(m.service).Observe(float64(summary.HistoryMessages))
	if summary.DeepResearchIterations > 0 {
		m.deepIterations.WithLabelValues(m.service).Observe(float64(summary.DeepResearchIterations))
	}
	if strings.TrimSpace(summary.PatternFallbackReason) != "" {
		m.patternFallbacks.WithLabelValues(m.service).Inc()
	}
	if trace == nil {
		return
	}

	m.queryDuration.WithLabelValues(m.service, pattern).Observe(float64(trace.TotalDurationMs) / 1000)
	for _, step := range trace.Steps {
		status := strings.ToLower(string(step.Status))
		m.stepDuration.WithLabelValues(m.service, step.Name, status).Observe(float64(step.DurationMs) / 1000)
		if source, ok := retrievalSteps[step.Name]; ok {
			m.sourceOutcomes.WithLabelValues(m.service, string(source), status).Inc()
		}
		m.recordTokens(step)
	}
}

func (m *PipelineMetrics) recordTokens(step domain.ExecutionStep) {
	if step.TokenUsage.IsEmpty() {
		return
	}
	model := step.LLMModel
	if model == "" {
		model = "unknown"
	}
	if in := step.TokenUsage.InputTokens; in != nil && *in > 0 {
		m.tokensTotal.WithLabelValues(m.service, "in", model).Add(float64(*in))
	}
	if out := step.TokenUsage.OutputTokens; out != nil && *out > 0 {
		m.tokensTotal.WithLabelValues(m.service, "out", model).Add(float64(*out))
	}
}

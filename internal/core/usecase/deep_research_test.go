package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

type scriptedRetriever struct {
	results []*domain.RetrievalResult
	errs    []error
	queries []domain.ParsedQuery
}

func (r *scriptedRetriever) Retrieve(_ context.Context, parsed domain.ParsedQuery, _ domain.RetrievalOptions, _ *Tracer) (*domain.RetrievalResult, error) {
	idx := len(r.queries)
	r.queries = append(r.queries, parsed)
	if idx < len(r.errs) && r.errs[idx] != nil {
		return nil, r.errs[idx]
	}
	if idx >= len(r.results) {
		return r.results[len(r.results)-1], nil
	}
	return r.results[idx], nil
}

func resultOf(pairs ...any) *domain.RetrievalResult {
	out := domain.NewRetrievalResult()
	for i := 0; i+1 < len(pairs); i += 2 {
		id := pairs[i].(string)
		out.ExpertIDs = append(out.ExpertIDs, id)
		out.Scores[id] = pairs[i+1].(float64)
		out.Sources[id] = []domain.SourceName{domain.SourceVector}
	}
	return out
}

func expertDirectory(ids ...string) *enricherFake {
	experts := map[string]domain.ExpertContext{}
	for _, id := range ids {
		experts[id] = domain.ExpertContext{ID: id, Name: "Expert " + id, Skills: []string{"Java"}}
	}
	return &enricherFake{experts: experts}
}

func TestDeepResearchTerminatesWhenGapsNeverClose(t *testing.T) {
	retriever := &scriptedRetriever{results: []*domain.RetrievalResult{resultOf("E1", 0.8)}}
	llm := newCompleterFake()
	// Each round reports a fresh gap so the loop can only stop on the iteration bound.
	for i := 0; i < 10; i++ {
		llm.onStructured("gap_analysis", fmt.Sprintf(`{"sufficient":false,"missingSkills":["skill-%d"],"missingTechnologies":[],"missingDomains":[]}`, i))
	}
	uc := NewDeepResearchUseCase(retriever, expertDirectory("E1"), llm, DeepResearchConfig{MaxIterations: 3})

	out, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{}, NewTracer(), nil)
	if err != nil {
		t.Fatalf("PerformDeepResearch() error = %v", err)
	}
	if out.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", out.Iterations)
	}
	if got := llm.count("gap_analysis"); got != 3 {
		t.Fatalf("expected 3 gap analyses, got %d", got)
	}
	if len(retriever.queries) != 4 {
		t.Fatalf("expected baseline + 3 retrievals, got %d", len(retriever.queries))
	}
}

func TestDeepResearchStopsWithoutGaps(t *testing.T) {
	retriever := &scriptedRetriever{results: []*domain.RetrievalResult{resultOf("E1", 0.8)}}
	llm := newCompleterFake().onStructured("gap_analysis", `{"sufficient":true,"missingSkills":[],"missingTechnologies":[],"missingDomains":[]}`)
	uc := NewDeepResearchUseCase(retriever, expertDirectory("E1"), llm, DeepResearchConfig{})

	out, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{}, nil, nil)
	if err != nil {
		t.Fatalf("PerformDeepResearch() error = %v", err)
	}
	if out.Iterations != 0 || len(retriever.queries) != 1 {
		t.Fatalf("expected baseline only, got iterations=%d retrievals=%d", out.Iterations, len(retriever.queries))
	}
	if out.Result.ExpertIDs[0] != "E1" {
		t.Fatalf("unexpected result %v", out.Result.ExpertIDs)
	}
}

func TestDeepResearchStopsWhenNoNewTerms(t *testing.T) {
	retriever := &scriptedRetriever{results: []*domain.RetrievalResult{resultOf("E1", 0.8)}}
	llm := newCompleterFake().onStructured("gap_analysis", `{"sufficient":false,"missingSkills":["java"],"missingTechnologies":["spring boot"],"missingDomains":[]}`)
	uc := NewDeepResearchUseCase(retriever, expertDirectory("E1"), llm, DeepResearchConfig{})

	tracer := NewTracer()
	out, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{}, tracer, nil)
	if err != nil {
		t.Fatalf("PerformDeepResearch() error = %v", err)
	}
	if out.Iterations != 0 || len(retriever.queries) != 1 {
		t.Fatalf("expected no re-retrieval, got %d", len(retriever.queries))
	}
	if tracer.BuildTrace().StepsByStatus(domain.StepSkipped) != 1 {
		t.Fatalf("expected skipped expand step")
	}
}

func TestDeepResearchMergesWithDecay(t *testing.T) {
	retriever := &scriptedRetriever{results: []*domain.RetrievalResult{
		resultOf("E1", 0.8),
		resultOf("E2", 1.0, "E1", 0.5),
	}}
	llm := newCompleterFake().onStructured("gap_analysis",
		`{"sufficient":false,"missingSkills":[],"missingTechnologies":["Kafka"],"missingDomains":[]}`,
		`{"sufficient":true,"missingSkills":[],"missingTechnologies":[],"missingDomains":[]}`)
	uc := NewDeepResearchUseCase(retriever, expertDirectory("E1", "E2"), llm, DeepResearchConfig{DecayFactor: 0.5})

	out, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{}, nil, nil)
	if err != nil {
		t.Fatalf("PerformDeepResearch() error = %v", err)
	}
	// E1: (0.8 + 0.5*0.5)/1.5 = 0.7, E2: 0.5*1.0/1.5 = 0.333
	if out.Result.ExpertIDs[0] != "E1" || out.Result.ExpertIDs[1] != "E2" {
		t.Fatalf("unexpected order %v", out.Result.ExpertIDs)
	}
	if math.Abs(out.Result.Scores["E1"]-0.7) > 1e-9 {
		t.Fatalf("unexpected E1 score %f", out.Result.Scores["E1"])
	}
	if !containsTerm(retriever.queries[1].Technologies, "Kafka") {
		t.Fatalf("expected expanded query with Kafka, got %+v", retriever.queries[1])
	}
	if out.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", out.Iterations)
	}
}

func TestDeepResearchGapAnalysisFailureReturnsBaseline(t *testing.T) {
	retriever := &scriptedRetriever{results: []*domain.RetrievalResult{resultOf("E1", 0.8)}}
	llm := newCompleterFake()
	llm.structErr["gap_analysis"] = domain.WrapError(domain.ErrTemporary, "complete", errors.New("timeout"))
	uc := NewDeepResearchUseCase(retriever, expertDirectory("E1"), llm, DeepResearchConfig{})

	tracer := NewTracer()
	out, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{}, tracer, nil)
	if err != nil {
		t.Fatalf("PerformDeepResearch() error = %v", err)
	}
	if out.Result.Len() != 1 {
		t.Fatalf("expected baseline result, got %v", out.Result.ExpertIDs)
	}
	if tracer.BuildTrace().StepsByStatus(domain.StepFailed) != 1 {
		t.Fatalf("expected one failed step")
	}
}

func TestDeepResearchBaselineFailureIsReturned(t *testing.T) {
	baselineErr := domain.WrapError(domain.ErrTemporary, "retrieve", domain.ErrEmbeddingUnavailable)
	retriever := &scriptedRetriever{errs: []error{baselineErr}, results: []*domain.RetrievalResult{resultOf()}}
	uc := NewDeepResearchUseCase(retriever, expertDirectory(), newCompleterFake(), DeepResearchConfig{})

	_, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{RequireVector: true}, nil, nil)
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected baseline error, got %v", err)
	}
}

func TestDeepResearchCachesEnrichment(t *testing.T) {
	retriever := &scriptedRetriever{results: []*domain.RetrievalResult{resultOf("E1", 0.8), resultOf("E1", 0.9)}}
	llm := newCompleterFake().onStructured("gap_analysis",
		`{"sufficient":false,"missingSkills":["Scala"],"missingTechnologies":[],"missingDomains":[]}`,
		`{"sufficient":true,"missingSkills":[],"missingTechnologies":[],"missingDomains":[]}`)
	enricher := expertDirectory("E1")
	uc := NewDeepResearchUseCase(retriever, enricher, llm, DeepResearchConfig{})

	if _, err := uc.PerformDeepResearch(context.Background(), javaSpringQuery(), domain.RetrievalOptions{}, nil, nil); err != nil {
		t.Fatalf("PerformDeepResearch() error = %v", err)
	}
	if len(enricher.calls) != 1 {
		t.Fatalf("expected a single enrichment call, got %d", len(enricher.calls))
	}
}

func containsTerm(terms []string, want string) bool {
	for _, term := range terms {
		if term == want {
			return true
		}
	}
	return false
}

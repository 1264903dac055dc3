package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

const (
	deepResearchService        = "DeepResearchUseCase"
	defaultDeepResearchIters   = 3
	defaultDeepResearchDecay   = 0.7
	defaultGapAnalysisTopN     = 5
	deepResearchStageIteration = "deep_research_iteration"
)

type DeepResearchConfig struct {
	MaxIterations   int
	DecayFactor     float64
	GapAnalysisTopN int
}

// fusionRetriever is the subset of RetrievalUseCase the loop depends on.
type fusionRetriever interface {
	Retrieve(ctx context.Context, parsed domain.ParsedQuery, opts domain.RetrievalOptions, tracer *Tracer) (*domain.RetrievalResult, error)
}

type DeepResearchResult struct {
	Result        *domain.RetrievalResult
	Iterations    int
	ExpandedQuery domain.ParsedQuery
	Experts       map[string]domain.ExpertContext
}

type DeepResearchUseCase struct {
	retriever fusionRetriever
	enricher  ports.ExpertEnricher
	llm       ports.StructuredCompleter
	cfg       DeepResearchConfig
}

func NewDeepResearchUseCase(
	retriever fusionRetriever,
	enricher ports.ExpertEnricher,
	llm ports.StructuredCompleter,
	cfg DeepResearchConfig,
) *DeepResearchUseCase {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultDeepResearchIters
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = defaultDeepResearchDecay
	}
	if cfg.GapAnalysisTopN <= 0 {
		cfg.GapAnalysisTopN = defaultGapAnalysisTopN
	}
	return &DeepResearchUseCase{
		retriever: retriever,
		enricher:  enricher,
		llm:       llm,
		cfg:       cfg,
	}
}

type gapAnalysis struct {
	Sufficient          bool     `json:"sufficient"`
	MissingSkills       []string `json:"missingSkills"`
	MissingTechnologies []string `json:"missingTechnologies"`
	MissingDomains      []string `json:"missingDomains"`
	Reasoning           string   `json:"reasoning"`
}

func (g gapAnalysis) empty() bool {
	return len(domain.NormalizeTerms(g.MissingSkills)) == 0 &&
		len(domain.NormalizeTerms(g.MissingTechnologies)) == 0 &&
		len(domain.NormalizeTerms(g.MissingDomains)) == 0
}

// PerformDeepResearch runs a baseline retrieval and then expands the query with the gaps the model
// reports, merging each round with a decaying weight. Failures after the baseline end the loop and
// the best result so far is returned.
func (uc *DeepResearchUseCase) PerformDeepResearch(
	ctx context.Context,
	parsed domain.ParsedQuery,
	opts domain.RetrievalOptions,
	tracer *Tracer,
	observer ports.ProgressObserver,
) (*DeepResearchResult, error) {
	baseline, err := uc.retriever.Retrieve(ctx, parsed, opts, tracer)
	if err != nil {
		return nil, err
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	merger := newIterationMerger()
	merger.add(baseline, 1.0)
	current := merger.result(maxResults)
	expanded := parsed
	cache := map[string]domain.ExpertContext{}
	out := &DeepResearchResult{Result: current, ExpandedQuery: expanded, Experts: cache}

	for iteration := 1; iteration <= uc.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		notify(observer, deepResearchStageIteration, fmt.Sprintf("gap analysis round %d", iteration))

		experts, err := uc.loadTopExperts(ctx, current, cache, tracer)
		if err != nil {
			slog.Warn("deep_research_enrichment_failed", "iteration", iteration, "error", err.Error())
			break
		}

		gaps, err := uc.analyzeGaps(ctx, expanded, experts, tracer)
		if err != nil {
			slog.Warn("deep_research_gap_analysis_failed", "iteration", iteration, "error", err.Error())
			break
		}
		if gaps.Sufficient || gaps.empty() {
			break
		}

		next := expanded.Expand(gaps.MissingSkills, gaps.MissingTechnologies, gaps.MissingDomains)
		if !addsTerms(expanded, next) {
			tracer.SkipStep("deep_research_expand", deepResearchService, "Expand", "no new terms")
			break
		}

		result, err := uc.retriever.Retrieve(ctx, next, opts, tracer)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("deep_research_retrieval_failed", "iteration", iteration, "error", err.Error())
			tracer.SkipStep("deep_research_retrieve", deepResearchService, "Retrieve", "re-retrieval failed: "+err.Error())
			break
		}

		expanded = next
		merger.add(result, math.Pow(uc.cfg.DecayFactor, float64(iteration)))
		current = merger.result(maxResults)
		out.Result = current
		out.Iterations = iteration
		out.ExpandedQuery = expanded
	}

	return out, nil
}

func (uc *DeepResearchUseCase) loadTopExperts(
	ctx context.Context,
	current *domain.RetrievalResult,
	cache map[string]domain.ExpertContext,
	tracer *Tracer,
) ([]domain.ExpertContext, error) {
	top := current.Top(uc.cfg.GapAnalysisTopN)
	missing := make([]string, 0, len(top))
	for _, id := range top {
		if _, ok := cache[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && uc.enricher != nil {
		step := tracer.StartStep("deep_research_enrichment", "ExpertEnricher", "LoadExpertDetails")
		loaded, err := uc.enricher.LoadExpertDetails(ctx, missing)
		if err != nil {
			step.Fail(fmt.Sprintf("ids=%d", len(missing)), err.Error())
			return nil, err
		}
		for _, expert := range loaded {
			cache[expert.ID] = expert
		}
		step.End(fmt.Sprintf("ids=%d", len(missing)), fmt.Sprintf("loaded=%d", len(loaded)))
	}

	experts := make([]domain.ExpertContext, 0, len(top))
	for _, id := range top {
		if expert, ok := cache[id]; ok {
			experts = append(experts, expert)
		}
	}
	return experts, nil
}

func (uc *DeepResearchUseCase) analyzeGaps(
	ctx context.Context,
	parsed domain.ParsedQuery,
	experts []domain.ExpertContext,
	tracer *Tracer,
) (gapAnalysis, error) {
	var out gapAnalysis
	err := completeJSON(ctx, uc.llm, tracer, "gap_analysis", ports.StructuredRequest{
		Name:   "gap_analysis",
		Prompt: buildGapAnalysisPrompt(parsed, experts),
		Schema: gapAnalysisSchema,
	}, &out)
	return out, err
}

func addsTerms(before, after domain.ParsedQuery) bool {
	return len(after.Skills) > len(before.Skills) ||
		len(after.Technologies) > len(before.Technologies) ||
		len(after.Domains) > len(before.Domains)
}

// iterationMerger accumulates weighted scores across rounds. The merged score is the weighted
// sum divided by the sum of applied weights.
type iterationMerger struct {
	scores      map[string]float64
	sources     map[string][]domain.SourceName
	order       []string
	totalWeight float64
}

func newIterationMerger() *iterationMerger {
	return &iterationMerger{
		scores:  map[string]float64{},
		sources: map[string][]domain.SourceName{},
	}
}

func (m *iterationMerger) add(result *domain.RetrievalResult, weight float64) {
	m.totalWeight += weight
	if result == nil {
		return
	}
	for _, id := range result.ExpertIDs {
		if _, ok := m.scores[id]; !ok {
			m.order = append(m.order, id)
		}
		m.scores[id] += weight * result.Scores[id]
		m.sources[id] = mergeSourceNames(m.sources[id], result.Sources[id])
	}
}

func (m *iterationMerger) result(maxResults int) *domain.RetrievalResult {
	ids := append([]string(nil), m.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return m.scores[ids[i]] > m.scores[ids[j]]
	})
	if maxResults > 0 && len(ids) > maxResults {
		ids = ids[:maxResults]
	}

	out := domain.NewRetrievalResult()
	for _, id := range ids {
		score := 0.0
		if m.totalWeight > 0 {
			score = clampUnit(m.scores[id] / m.totalWeight)
		}
		out.ExpertIDs = append(out.ExpertIDs, id)
		out.Scores[id] = score
		if sources := m.sources[id]; len(sources) > 0 {
			out.Sources[id] = sources
		}
	}
	return out
}

func mergeSourceNames(current, extra []domain.SourceName) []domain.SourceName {
	for _, source := range extra {
		found := false
		for _, existing := range current {
			if existing == source {
				found = true
				break
			}
		}
		if !found {
			current = append(current, source)
		}
	}
	return current
}

func notify(observer ports.ProgressObserver, stage, message string) {
	if observer == nil {
		return
	}
	observer(domain.ProgressEvent{Stage: stage, Message: message})
}

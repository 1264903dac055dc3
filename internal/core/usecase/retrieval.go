package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

// RetrievalConfig bounds each source independently.
type RetrievalConfig struct {
	VectorLimit          int
	GraphLimit           int
	KeywordLimit         int
	VectorTimeout        time.Duration
	GraphTimeout         time.Duration
	KeywordTimeout       time.Duration
	DefaultMaxResults    int
	DefaultMinSimilarity float64
	// DefaultWeights applies when a request carries no fusion weights.
	DefaultWeights domain.FusionWeights
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorLimit:          20,
		GraphLimit:           20,
		KeywordLimit:         20,
		VectorTimeout:        5 * time.Second,
		GraphTimeout:         5 * time.Second,
		KeywordTimeout:       5 * time.Second,
		DefaultMaxResults:    defaultMaxResults,
		DefaultMinSimilarity: 0.3,
	}
}

type RetrievalUseCase struct {
	embedder ports.Embedder
	vector   ports.VectorSearcher
	graph    ports.GraphSearcher
	keyword  ports.KeywordSearcher
	cfg      RetrievalConfig
}

// NewRetrievalUseCase wires the search sources. Any source may be nil and is then skipped.
func NewRetrievalUseCase(
	embedder ports.Embedder,
	vector ports.VectorSearcher,
	graph ports.GraphSearcher,
	keyword ports.KeywordSearcher,
	cfg RetrievalConfig,
) *RetrievalUseCase {
	defaults := DefaultRetrievalConfig()
	if cfg.VectorLimit <= 0 {
		cfg.VectorLimit = defaults.VectorLimit
	}
	if cfg.GraphLimit <= 0 {
		cfg.GraphLimit = defaults.GraphLimit
	}
	if cfg.KeywordLimit <= 0 {
		cfg.KeywordLimit = defaults.KeywordLimit
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = defaults.VectorTimeout
	}
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = defaults.GraphTimeout
	}
	if cfg.KeywordTimeout <= 0 {
		cfg.KeywordTimeout = defaults.KeywordTimeout
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = defaults.DefaultMaxResults
	}
	return &RetrievalUseCase{
		embedder: embedder,
		vector:   vector,
		graph:    graph,
		keyword:  keyword,
		cfg:      cfg,
	}
}

// Retrieve runs the enabled sources concurrently and fuses their results. A failing source
// contributes nothing. The only hard failure is a missing embedding when RequireVector is set.
func (uc *RetrievalUseCase) Retrieve(
	ctx context.Context,
	parsed domain.ParsedQuery,
	opts domain.RetrievalOptions,
	tracer *Tracer,
) (*domain.RetrievalResult, error) {
	if parsed.IsEmpty() {
		return domain.NewRetrievalResult(), nil
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = uc.cfg.DefaultMaxResults
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = uc.cfg.DefaultMinSimilarity
	}
	if len(opts.Weights) == 0 {
		opts.Weights = uc.cfg.DefaultWeights
	}

	results, err := uc.fanOut(ctx, parsed, opts, tracer)
	if err != nil {
		return nil, err
	}

	step := tracer.StartStep("fusion", "RetrievalUseCase", "FuseResults")
	fused := FuseResults(results, opts.Weights, opts.MaxResults)
	step.End(fmt.Sprintf("sources=%d", len(results)), fmt.Sprintf("experts=%d", fused.Len()))
	return fused, nil
}

// SearchSources runs the fan-out without fusing, for callers that need the raw per-source lists.
func (uc *RetrievalUseCase) SearchSources(
	ctx context.Context,
	parsed domain.ParsedQuery,
	opts domain.RetrievalOptions,
	tracer *Tracer,
) ([]domain.SourceResult, error) {
	if parsed.IsEmpty() {
		return []domain.SourceResult{}, nil
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = uc.cfg.DefaultMinSimilarity
	}
	return uc.fanOut(ctx, parsed, opts, tracer)
}

func (uc *RetrievalUseCase) fanOut(
	ctx context.Context,
	parsed domain.ParsedQuery,
	opts domain.RetrievalOptions,
	tracer *Tracer,
) ([]domain.SourceResult, error) {
	results := make([]domain.SourceResult, len(domain.AllSources))
	for i, source := range domain.AllSources {
		results[i] = domain.SourceResult{Source: source, Hits: []domain.SourceHit{}, Scored: source == domain.SourceVector}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if uc.vector != nil && uc.embedder != nil {
		eg.Go(func() error {
			hits, err := uc.searchVector(egCtx, parsed, opts, tracer)
			if err != nil {
				if opts.RequireVector && errors.Is(err, domain.ErrEmbeddingUnavailable) {
					return err
				}
				results[0].Err = err
				return nil
			}
			results[0].Hits = hits
			return nil
		})
	} else if opts.RequireVector {
		return nil, domain.WrapError(domain.ErrTemporary, "retrieve", domain.ErrEmbeddingUnavailable)
	}

	if uc.graph != nil {
		eg.Go(func() error {
			ids, err := uc.runSource(egCtx, tracer, domain.SourceGraph, "GraphSearcher", uc.cfg.GraphTimeout, func(sctx context.Context) ([]string, error) {
				return uc.searchGraph(sctx, parsed)
			})
			results[1].Hits = rankedSourceHits(ids)
			results[1].Err = err
			return nil
		})
	}

	if uc.keyword != nil {
		eg.Go(func() error {
			ids, err := uc.runSource(egCtx, tracer, domain.SourceKeyword, "KeywordSearcher", uc.cfg.KeywordTimeout, func(sctx context.Context) ([]string, error) {
				return uc.searchKeyword(sctx, parsed)
			})
			results[2].Hits = rankedSourceHits(ids)
			results[2].Err = err
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (uc *RetrievalUseCase) searchVector(
	ctx context.Context,
	parsed domain.ParsedQuery,
	opts domain.RetrievalOptions,
	tracer *Tracer,
) ([]domain.SourceHit, error) {
	sctx, cancel := context.WithTimeout(ctx, uc.cfg.VectorTimeout)
	defer cancel()

	text := parsed.SearchText()
	embedStep := tracer.StartStep("embed_query", "Embedder", "EmbedQuery")
	embedding, err := uc.embedder.EmbedQuery(sctx, text)
	if err != nil {
		embedStep.Fail(summarize(text), err.Error())
		slog.Warn("retrieval_source_failed", "source", domain.SourceVector, "stage", "embed", "error", err.Error())
		return nil, domain.WrapError(domain.ErrTemporary, "embed query", fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err))
	}
	embedStep.End(summarize(text), fmt.Sprintf("dims=%d", len(embedding)))

	step := tracer.StartStep("vector_search", "VectorSearcher", "SearchExperts")
	hits, err := uc.vector.SearchExperts(sctx, embedding, uc.cfg.VectorLimit, opts.MinSimilarity)
	if err != nil {
		step.Fail(fmt.Sprintf("limit=%d min=%.2f", uc.cfg.VectorLimit, opts.MinSimilarity), err.Error())
		slog.Warn("retrieval_source_failed", "source", domain.SourceVector, "error", err.Error())
		return nil, fmt.Errorf("vector search: %w", err)
	}
	filtered := make([]domain.SourceHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity >= opts.MinSimilarity {
			filtered = append(filtered, hit)
		}
	}
	step.End(fmt.Sprintf("limit=%d min=%.2f", uc.cfg.VectorLimit, opts.MinSimilarity), fmt.Sprintf("hits=%d", len(filtered)))
	return filtered, nil
}

func (uc *RetrievalUseCase) runSource(
	ctx context.Context,
	tracer *Tracer,
	source domain.SourceName,
	service string,
	timeout time.Duration,
	search func(context.Context) ([]string, error),
) ([]string, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	step := tracer.StartStep(string(source)+"_search", service, "Search")
	ids, err := search(sctx)
	if err != nil {
		step.Fail(string(source), err.Error())
		slog.Warn("retrieval_source_failed", "source", source, "error", err.Error())
		return nil, err
	}
	step.End(string(source), fmt.Sprintf("hits=%d", len(ids)))
	return ids, nil
}

func (uc *RetrievalUseCase) searchGraph(ctx context.Context, parsed domain.ParsedQuery) ([]string, error) {
	limit := uc.cfg.GraphLimit
	collector := newIDCollector(limit)

	switch len(parsed.Technologies) {
	case 0:
	case 1:
		ids, err := uc.graph.ByTechnology(ctx, parsed.Technologies[0], limit)
		if err != nil {
			return nil, fmt.Errorf("graph by technology: %w", err)
		}
		collector.add(ids)
	default:
		ids, err := uc.graph.ByTechnologies(ctx, parsed.Technologies, limit)
		if err != nil {
			return nil, fmt.Errorf("graph by technologies: %w", err)
		}
		collector.add(ids)
	}
	for _, name := range parsed.Domains {
		if collector.full() {
			break
		}
		ids, err := uc.graph.ByDomain(ctx, name, limit)
		if err != nil {
			return nil, fmt.Errorf("graph by domain: %w", err)
		}
		collector.add(ids)
	}
	for _, customer := range parsed.Customers {
		if collector.full() {
			break
		}
		ids, err := uc.graph.ByCustomer(ctx, customer, limit)
		if err != nil {
			return nil, fmt.Errorf("graph by customer: %w", err)
		}
		collector.add(ids)
	}
	return collector.ids, nil
}

func (uc *RetrievalUseCase) searchKeyword(ctx context.Context, parsed domain.ParsedQuery) ([]string, error) {
	limit := uc.cfg.KeywordLimit
	collector := newIDCollector(limit)

	keywords := parsed.Skills
	if len(keywords) == 0 && len(parsed.Technologies) == 0 && parsed.Text != "" {
		keywords = []string{parsed.Text}
	}
	if len(keywords) > 0 {
		ids, err := uc.keyword.ByKeywords(ctx, keywords, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		collector.add(ids)
	}
	if len(parsed.Technologies) > 0 && !collector.full() {
		ids, err := uc.keyword.ByTechnologies(ctx, parsed.Technologies, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword technology search: %w", err)
		}
		collector.add(ids)
	}
	return collector.ids, nil
}

type idCollector struct {
	limit int
	seen  map[string]struct{}
	ids   []string
}

func newIDCollector(limit int) *idCollector {
	return &idCollector{limit: limit, seen: map[string]struct{}{}, ids: []string{}}
}

func (c *idCollector) add(ids []string) {
	for _, id := range ids {
		if c.full() {
			return
		}
		if id == "" {
			continue
		}
		if _, ok := c.seen[id]; ok {
			continue
		}
		c.seen[id] = struct{}{}
		c.ids = append(c.ids, id)
	}
}

func (c *idCollector) full() bool {
	return c.limit > 0 && len(c.ids) >= c.limit
}

func rankedSourceHits(ids []string) []domain.SourceHit {
	hits := make([]domain.SourceHit, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, domain.SourceHit{ExpertID: id})
	}
	return hits
}

func summarize(text string) string {
	const limit = 120
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

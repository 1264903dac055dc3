package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

const (
	StageParsing    = "parsing"
	StageRouting    = "routing"
	StageHistory    = "history"
	StageRetrieval  = "retrieval"
	StageEnrichment = "enrichment"
	StageGeneration = "generation"
	StageDone       = "done"
)

// QueryUseCase runs the full pipeline for one request: parse, classify, retrieve (optionally deep),
// enrich, synthesize, trace.
type QueryUseCase struct {
	parser    ports.QueryParser
	retrieval fusionRetriever
	deep      *DeepResearchUseCase
	enricher  ports.ExpertEnricher
	patterns  *PatternController
	history   *HistoryCompressor
	chats     ports.ChatHistoryStore
	observer  ports.PipelineObserver
	now       func() time.Time
}

func NewQueryUseCase(
	parser ports.QueryParser,
	retrieval fusionRetriever,
	deep *DeepResearchUseCase,
	enricher ports.ExpertEnricher,
	patterns *PatternController,
	history *HistoryCompressor,
	chats ports.ChatHistoryStore,
	observer ports.PipelineObserver,
) *QueryUseCase {
	return &QueryUseCase{
		parser:    parser,
		retrieval: retrieval,
		deep:      deep,
		enricher:  enricher,
		patterns:  patterns,
		history:   history,
		chats:     chats,
		observer:  observer,
		now:       time.Now,
	}
}

func (uc *QueryUseCase) ProcessQuery(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	return uc.ProcessQueryWithProgress(ctx, req, nil)
}

func (uc *QueryUseCase) ProcessQueryWithProgress(
	ctx context.Context,
	req domain.QueryRequest,
	observer ports.ProgressObserver,
) (*domain.QueryResponse, error) {
	if err := validateQueryRequest(req); err != nil {
		return nil, err
	}
	tracer := NewTracer()

	notify(observer, StageParsing, "parsing query")
	parsed, err := uc.parse(ctx, req.Query, tracer)
	if err != nil {
		return nil, err
	}

	summary := domain.QuerySummary{Intent: parsed.Intent, Pattern: domain.PatternPlain}

	if req.Options.Patterns.UseRouting {
		notify(observer, StageRouting, "classifying query")
	}
	classification, err := uc.patterns.Classify(ctx, parsed, req.Options.Patterns, tracer)
	if err != nil {
		return nil, err
	}
	if classification != nil {
		summary.Classification = classification
		summary.Intent = classification.Intent
	}

	notify(observer, StageHistory, "loading conversation history")
	queryStored := uc.appendMessage(ctx, req, domain.MessageTypeQuery, domain.RoleUser, req.Query, tracer)
	history := uc.loadHistory(ctx, req, queryStored, tracer)
	summary.HistoryMessages = len(history)

	notify(observer, StageRetrieval, "searching experts")
	result, cached, iterations, err := uc.retrieve(ctx, parsed, req.Options, tracer, observer)
	if err != nil {
		return nil, err
	}
	summary.CandidatesFound = result.Len()
	summary.DeepResearchIterations = iterations

	notify(observer, StageEnrichment, fmt.Sprintf("loading %d expert profiles", result.Len()))
	experts, err := uc.enrich(ctx, result.ExpertIDs, cached, tracer)
	if err != nil {
		return nil, err
	}

	pattern, reason := uc.patterns.Resolve(req.Options.Patterns, len(experts), tracer)
	summary.Pattern = pattern
	summary.PatternFallbackReason = reason

	notify(observer, StageGeneration, fmt.Sprintf("generating answer with %s pattern", pattern))
	generated, err := uc.patterns.Generate(ctx, GenerationInput{
		Query:          req.Query,
		Parsed:         parsed,
		Intent:         summary.Intent,
		Classification: classification,
		Experts:        experts,
		History:        history,
	}, pattern, tracer)
	if err != nil {
		return nil, err
	}

	uc.appendMessage(ctx, req, domain.MessageTypeAnswer, domain.RoleAssistant, generated.Answer, tracer)

	trace := tracer.BuildTrace()
	if uc.observer != nil {
		uc.observer.ObservePipeline(trace, summary)
	}

	resp := &domain.QueryResponse{
		Answer:        generated.Answer,
		RankedExperts: rankExperts(result, experts),
		Sources:       sourceReferences(result),
		Entities: domain.QueryEntities{
			Skills:       parsed.Skills,
			Technologies: parsed.Technologies,
			Domains:      parsed.Domains,
			Customers:    parsed.Customers,
		},
		Summary: summary,
	}
	if req.Options.IncludeExecutionTrace {
		resp.ExecutionTrace = trace
	}
	notify(observer, StageDone, "answer ready")
	return resp, nil
}

// RetrieveExperts runs parsing and fused retrieval only.
func (uc *QueryUseCase) RetrieveExperts(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalResult, *domain.ExecutionTrace, error) {
	if err := validateQueryRequest(req); err != nil {
		return nil, nil, err
	}
	tracer := NewTracer()
	parsed, err := uc.parse(ctx, req.Query, tracer)
	if err != nil {
		return nil, nil, err
	}
	result, err := uc.retrieval.Retrieve(ctx, parsed, retrievalOptions(req.Options), tracer)
	if err != nil {
		return nil, nil, err
	}
	return result, tracer.BuildTrace(), nil
}

// DeepResearch runs parsing and the deep research loop only.
func (uc *QueryUseCase) DeepResearch(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalResult, *domain.ExecutionTrace, error) {
	if err := validateQueryRequest(req); err != nil {
		return nil, nil, err
	}
	if uc.deep == nil {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "deep research", errors.New("deep research is not configured"))
	}
	tracer := NewTracer()
	parsed, err := uc.parse(ctx, req.Query, tracer)
	if err != nil {
		return nil, nil, err
	}
	out, err := uc.deep.PerformDeepResearch(ctx, parsed, retrievalOptions(req.Options), tracer, nil)
	if err != nil {
		return nil, nil, err
	}
	return out.Result, tracer.BuildTrace(), nil
}

func validateQueryRequest(req domain.QueryRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "process query", errors.New("query is required"))
	}
	if req.Options.MaxResults < 0 {
		return domain.WrapError(domain.ErrInvalidInput, "process query", errors.New("max_results must be positive"))
	}
	if req.Options.MinSimilarity < 0 || req.Options.MinSimilarity > 1 {
		return domain.WrapError(domain.ErrInvalidInput, "process query", errors.New("min_similarity must be within [0,1]"))
	}
	for source, weight := range req.Options.Weights {
		if weight < 0 || weight > 1 {
			return domain.WrapError(domain.ErrInvalidInput, "process query", fmt.Errorf("weight for %s must be within [0,1]", source))
		}
	}
	return req.Options.Patterns.Validate()
}

func retrievalOptions(opts domain.QueryOptions) domain.RetrievalOptions {
	return domain.RetrievalOptions{
		MaxResults:    opts.MaxResults,
		MinSimilarity: opts.MinSimilarity,
		Weights:       opts.Weights,
		RequireVector: opts.RequireVector,
	}
}

func (uc *QueryUseCase) parse(ctx context.Context, text string, tracer *Tracer) (domain.ParsedQuery, error) {
	step := tracer.StartStep("query_parsing", "QueryParser", "Parse")
	parsed, resp, err := uc.parser.Parse(ctx, text)
	if err != nil {
		step.Fail(summarize(text), err.Error())
		return domain.ParsedQuery{}, fmt.Errorf("parse query: %w", err)
	}
	step.EndWithLLM(summarize(text), fmt.Sprintf("intent=%s terms=%d", parsed.Intent, len(parsed.Terms())), resp.Model, resp.Usage)
	if parsed.Text == "" {
		parsed.Text = strings.TrimSpace(text)
	}
	return parsed, nil
}

// loadHistory runs after the live query is stored, so ExcludeCurrentQuery drops exactly that
// message. When the store rejected it there is nothing to exclude.
func (uc *QueryUseCase) loadHistory(ctx context.Context, req domain.QueryRequest, queryStored bool, tracer *Tracer) []domain.ConversationMessage {
	if uc.history == nil || req.ChatID == "" {
		return nil
	}
	exclude := req.Options.ExcludeCurrentQuery && queryStored
	history, err := uc.history.GetOptimizedHistory(ctx, req.ChatID, exclude, tracer)
	if err != nil {
		slog.Warn("history_load_failed", "chat_id", req.ChatID, "error", err.Error())
		return nil
	}
	return history
}

func (uc *QueryUseCase) retrieve(
	ctx context.Context,
	parsed domain.ParsedQuery,
	opts domain.QueryOptions,
	tracer *Tracer,
	observer ports.ProgressObserver,
) (*domain.RetrievalResult, map[string]domain.ExpertContext, int, error) {
	if opts.DeepResearch && uc.deep != nil {
		out, err := uc.deep.PerformDeepResearch(ctx, parsed, retrievalOptions(opts), tracer, observer)
		if err != nil {
			return nil, nil, 0, err
		}
		return out.Result, out.Experts, out.Iterations, nil
	}
	result, err := uc.retrieval.Retrieve(ctx, parsed, retrievalOptions(opts), tracer)
	if err != nil {
		return nil, nil, 0, err
	}
	return result, nil, 0, nil
}

// enrich loads expert records in rank order. Cached records from deep research are reused.
func (uc *QueryUseCase) enrich(
	ctx context.Context,
	ids []string,
	cached map[string]domain.ExpertContext,
	tracer *Tracer,
) ([]domain.ExpertContext, error) {
	if len(ids) == 0 || uc.enricher == nil {
		return []domain.ExpertContext{}, nil
	}
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}

	loaded := make(map[string]domain.ExpertContext, len(ids))
	for id, expert := range cached {
		loaded[id] = expert
	}
	if len(missing) > 0 {
		step := tracer.StartStep("expert_enrichment", "ExpertEnricher", "LoadExpertDetails")
		experts, err := uc.enricher.LoadExpertDetails(ctx, missing)
		if err != nil {
			step.Fail(fmt.Sprintf("ids=%d", len(missing)), err.Error())
			return nil, fmt.Errorf("load expert details: %w", err)
		}
		for _, expert := range experts {
			loaded[expert.ID] = expert
		}
		step.End(fmt.Sprintf("ids=%d", len(missing)), fmt.Sprintf("loaded=%d", len(experts)))
	}

	out := make([]domain.ExpertContext, 0, len(ids))
	for _, id := range ids {
		if expert, ok := loaded[id]; ok {
			out = append(out, expert)
		}
	}
	return out, nil
}

func (uc *QueryUseCase) appendMessage(
	ctx context.Context,
	req domain.QueryRequest,
	messageType, role, content string,
	tracer *Tracer,
) bool {
	if uc.chats == nil || req.ChatID == "" {
		return false
	}
	step := tracer.StartStep("chat_history_append", "ChatHistoryStore", "AppendMessage")
	err := uc.chats.AppendMessage(ctx, domain.ConversationMessage{
		ID:          uuid.NewString(),
		ChatID:      req.ChatID,
		MessageType: messageType,
		Role:        role,
		Content:     content,
		CreatedAt:   uc.now().UTC(),
	})
	if err != nil {
		step.Fail(req.ChatID, err.Error())
		slog.Warn("chat_history_append_failed", "chat_id", req.ChatID, "role", role, "error", err.Error())
		return false
	}
	step.End(req.ChatID, "role="+role)
	return true
}

func rankExperts(result *domain.RetrievalResult, experts []domain.ExpertContext) []domain.RankedExpert {
	out := make([]domain.RankedExpert, 0, len(experts))
	for idx, expert := range experts {
		out = append(out, domain.RankedExpert{
			Rank:           idx + 1,
			RelevanceScore: result.Score(expert.ID),
			Expert:         expert,
			Sources:        result.Sources[expert.ID],
		})
	}
	return out
}

func sourceReferences(result *domain.RetrievalResult) []domain.SourceReference {
	out := make([]domain.SourceReference, 0, len(domain.AllSources))
	for _, source := range domain.AllSources {
		ids := []string{}
		for _, id := range result.ExpertIDs {
			for _, contributed := range result.Sources[id] {
				if contributed == source {
					ids = append(ids, id)
					break
				}
			}
		}
		if len(ids) > 0 {
			out = append(out, domain.SourceReference{Source: source, ExpertIDs: ids})
		}
	}
	return out
}

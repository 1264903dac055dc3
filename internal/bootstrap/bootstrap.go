package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/expert-match/internal/config"
	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
	"github.com/kirillkom/expert-match/internal/core/usecase"
	"github.com/kirillkom/expert-match/internal/infrastructure/extractor/cv"
	"github.com/kirillkom/expert-match/internal/infrastructure/extractor/roster"
	"github.com/kirillkom/expert-match/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/expert-match/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/expert-match/internal/infrastructure/llm/openai"
	"github.com/kirillkom/expert-match/internal/infrastructure/queue/nats"
	"github.com/kirillkom/expert-match/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/expert-match/internal/infrastructure/resilience"
	"github.com/kirillkom/expert-match/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/expert-match/internal/infrastructure/vector/chromem"
	"github.com/kirillkom/expert-match/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/expert-match/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Experts  ports.ExpertReader
	IngestUC ports.ExpertIngestor
	IndexUC  ports.ExpertIndexer
	QueryUC  *usecase.QueryUseCase

	closers []func(context.Context) error
}

type Option func(*options)

type options struct {
	service    string
	registerer prometheus.Registerer
	ingestion  bool
}

// WithMetrics registers pipeline and circuit breaker metrics on reg.
func WithMetrics(service string, reg prometheus.Registerer) Option {
	return func(o *options) {
		o.service = service
		o.registerer = reg
	}
}

// WithoutIngestion skips the queue, CV storage and ingestion use case. Used by read-only surfaces.
func WithoutIngestion() Option {
	return func(o *options) {
		o.ingestion = false
	}
}

// llmProvider is what one LLM backend supplies to the pipeline.
type llmProvider struct {
	completer ports.StructuredCompleter
	embedder  ports.Embedder
}

type vectorStore interface {
	ports.VectorSearcher
	ports.VectorIndexer
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{service: "expert-match", ingestion: true}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	executor := newExecutor(cfg, o)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func(context.Context) error { return db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	experts := postgres.NewExpertRepository(db)
	chats := postgres.NewChatRepository(db)
	app.Experts = experts

	llm := newLLMProvider(cfg, executor)

	vectors, err := newVectorStore(cfg, executor)
	if err != nil {
		return nil, err
	}

	var (
		graphSearcher ports.GraphSearcher
		graphIndexer  ports.GraphIndexer
	)
	if cfg.Neo4jURI != "" {
		graph, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase, executor)
		if err != nil {
			return nil, fmt.Errorf("init graph store: %w", err)
		}
		app.onClose(graph.Close)
		graphSearcher, graphIndexer = graph, graph
	} else {
		slog.Info("graph_store_disabled", "reason", "NEO4J_URI is empty")
	}

	var observer ports.PipelineObserver
	if o.registerer != nil {
		observer = metrics.NewPipelineMetrics(o.service, o.registerer)
	}

	retrieval := usecase.NewRetrievalUseCase(llm.embedder, vectors, graphSearcher, experts, retrievalConfig(cfg.Pipeline))
	deep := usecase.NewDeepResearchUseCase(retrieval, experts, llm.completer, deepResearchConfig(cfg.Pipeline))
	history := usecase.NewHistoryCompressor(chats, llm.completer, historyConfig(cfg.Pipeline))
	patterns := usecase.NewPatternController(llm.completer, usecase.PatternConfig{CycleMaxIterations: cfg.Pipeline.Cycle.MaxIterations})
	app.QueryUC = usecase.NewQueryUseCase(
		ollama.NewQueryParser(llm.completer),
		retrieval,
		deep,
		experts,
		patterns,
		history,
		chats,
		observer,
	)
	app.IndexUC = usecase.NewIndexExpertUseCase(experts, llm.embedder, vectors, graphIndexer)

	if o.ingestion {
		if err := app.wireIngestion(cfg, experts, executor); err != nil {
			return nil, err
		}
	}

	ok = true
	return app, nil
}

func (a *App) wireIngestion(cfg config.Config, experts *postgres.ExpertRepository, executor *resilience.Executor) error {
	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init cv storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	a.onClose(func(context.Context) error {
		queue.Close()
		return nil
	})
	a.Queue = queue

	a.IngestUC = usecase.NewIngestExpertUseCase(
		experts,
		storage,
		queue,
		cv.NewExtractor(cfg.CVMaxTextRunes),
		roster.NewReader(),
	)
	return nil
}

func newExecutor(cfg config.Config, o options) *resilience.Executor {
	policy := resilience.DefaultConfig()
	policy.RetryMaxAttempts = cfg.ResilienceRetryAttempts
	policy.RetryInitialBackoff = cfg.ResilienceInitialBackoff
	policy.RetryMaxBackoff = cfg.ResilienceMaxBackoff
	policy.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerRequests > 0 {
		policy.BreakerMinRequests = uint32(cfg.ResilienceBreakerRequests)
	}
	policy.BreakerFailureRatio = cfg.ResilienceBreakerRatio
	policy.BreakerOpenTimeout = cfg.ResilienceBreakerTimeout

	var opts []resilience.Option
	if o.registerer != nil {
		breakers := metrics.NewBreakerMetrics(o.service, o.registerer)
		opts = append(opts, resilience.WithStateObserver(breakers.ObserveStateChange))
	}
	return resilience.NewExecutor(policy, opts...)
}

func newLLMProvider(cfg config.Config, executor *resilience.Executor) llmProvider {
	if cfg.LLMProvider == config.LLMProviderOpenAI {
		client := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel, cfg.OpenAIEmbedModel, executor)
		return llmProvider{completer: client, embedder: client}
	}
	client := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedModel,
		ollama.WithExecutor(executor),
		ollama.WithTimeout(cfg.OllamaTimeout),
	)
	return llmProvider{completer: ollama.NewCompleter(client), embedder: ollama.NewEmbedder(client)}
}

func newVectorStore(cfg config.Config, executor *resilience.Executor) (vectorStore, error) {
	if cfg.VectorBackend == config.VectorBackendMemory {
		store, err := chromem.New(cfg.ChromemPath)
		if err != nil {
			return nil, fmt.Errorf("init chromem vector store: %w", err)
		}
		return store, nil
	}
	return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor), nil
}

func retrievalConfig(p config.PipelineConfig) usecase.RetrievalConfig {
	return usecase.RetrievalConfig{
		VectorLimit:          p.Sources.VectorLimit,
		GraphLimit:           p.Sources.GraphLimit,
		KeywordLimit:         p.Sources.KeywordLimit,
		VectorTimeout:        p.Sources.VectorTimeout,
		GraphTimeout:         p.Sources.GraphTimeout,
		KeywordTimeout:       p.Sources.KeywordTimeout,
		DefaultMaxResults:    p.Fusion.MaxResults,
		DefaultMinSimilarity: p.Fusion.MinSimilarity,
		DefaultWeights:       fusionWeights(p.Fusion.Weights),
	}
}

func fusionWeights(raw map[string]float64) domain.FusionWeights {
	if len(raw) == 0 {
		return nil
	}
	out := make(domain.FusionWeights, len(raw))
	for name, weight := range raw {
		out[domain.SourceName(name)] = weight
	}
	return out
}

func deepResearchConfig(p config.PipelineConfig) usecase.DeepResearchConfig {
	return usecase.DeepResearchConfig{
		MaxIterations:   p.DeepResearch.MaxIterations,
		DecayFactor:     p.DeepResearch.DecayFactor,
		GapAnalysisTopN: p.DeepResearch.GapAnalysisTopN,
	}
}

func historyConfig(p config.PipelineConfig) usecase.HistoryConfig {
	return usecase.HistoryConfig{
		TokenBudget:           p.History.TokenBudget,
		SummaryReserveRatio:   p.History.SummaryReserveRatio,
		CharsPerToken:         p.History.CharsPerToken,
		MessageOverheadTokens: p.History.MessageOverheadTokens,
		MaxMessages:           p.History.MaxMessages,
	}
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("shutdown_close_failed", "error", err.Error())
		}
	}
	a.closers = nil
}

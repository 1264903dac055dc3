package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

// Embedder builds vectors for profile documents and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher returns nearest expert profiles above a similarity threshold.
type VectorSearcher interface {
	SearchExperts(ctx context.Context, embedding []float32, maxResults int, minSimilarity float64) ([]domain.SourceHit, error)
}

// VectorIndexer stores expert profile vectors.
type VectorIndexer interface {
	IndexExpert(ctx context.Context, profile *domain.ExpertProfile, vector []float32) error
}

// GraphSearcher traverses expert -> technology/domain/customer edges.
type GraphSearcher interface {
	ByTechnology(ctx context.Context, technology string, limit int) ([]string, error)
	ByTechnologies(ctx context.Context, technologies []string, limit int) ([]string, error)
	ByDomain(ctx context.Context, domainName string, limit int) ([]string, error)
	ByCustomer(ctx context.Context, customer string, limit int) ([]string, error)
}

// GraphIndexer writes expert nodes and their edges.
type GraphIndexer interface {
	UpsertExpert(ctx context.Context, profile *domain.ExpertProfile) error
}

// KeywordSearcher is the full-text search primitive.
type KeywordSearcher interface {
	ByKeywords(ctx context.Context, keywords []string, limit int) ([]string, error)
	ByTechnologies(ctx context.Context, technologies []string, limit int) ([]string, error)
}

// StructuredRequest asks the model for a JSON object matching Schema.
type StructuredRequest struct {
	Name   string
	Prompt string
	Schema json.RawMessage
}

// LLMResponse carries model output with the usage reported by the provider.
type LLMResponse struct {
	Content string
	Model   string
	Usage   *domain.TokenUsage
}

// StructuredCompleter is the LLM primitive used by every reasoning step. CompleteStructured must
// return an error wrapping domain.ErrNonTransient when the model output is not a JSON object and
// domain.ErrTemporary for retryable transport failures.
type StructuredCompleter interface {
	CompleteStructured(ctx context.Context, req StructuredRequest) (LLMResponse, error)
	CompleteText(ctx context.Context, prompt string) (LLMResponse, error)
}

// QueryParser turns free text into a ParsedQuery.
type QueryParser interface {
	Parse(ctx context.Context, text string) (domain.ParsedQuery, LLMResponse, error)
}

// ExpertEnricher loads full expert records, preserving the order of ids and skipping unknown ones.
type ExpertEnricher interface {
	LoadExpertDetails(ctx context.Context, expertIDs []string) ([]domain.ExpertContext, error)
}

// ExpertRepository persists expert profiles and their indexing state.
type ExpertRepository interface {
	Create(ctx context.Context, profile *domain.ExpertProfile) error
	GetByID(ctx context.Context, id string) (*domain.ExpertProfile, error)
	Update(ctx context.Context, profile *domain.ExpertProfile) error
	UpdateStatus(ctx context.Context, id string, status domain.ExpertStatus, errMessage string) error
}

// ChatHistoryStore reads and appends chat messages in sequence order.
type ChatHistoryStore interface {
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.ConversationMessage, error)
	AppendMessage(ctx context.Context, message domain.ConversationMessage) error
}

// ObjectStorage stores uploaded CV files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes expert ingestion events.
type MessageQueue interface {
	PublishExpertIngested(ctx context.Context, expertID string) error
	SubscribeExpertIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from an uploaded CV.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// RosterReader reads expert profiles from a spreadsheet roster.
type RosterReader interface {
	ReadProfiles(ctx context.Context, body io.Reader) ([]domain.ExpertProfile, error)
}

// PipelineObserver receives the finished trace of every processed query.
type PipelineObserver interface {
	ObservePipeline(trace *domain.ExecutionTrace, summary domain.QuerySummary)
}

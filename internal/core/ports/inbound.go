package ports

import (
	"context"
	"io"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

// ProgressObserver receives pipeline progress events. Implementations must not block.
type ProgressObserver func(event domain.ProgressEvent)

// ExpertQueryService is the inbound contract of the retrieval and reasoning pipeline.
type ExpertQueryService interface {
	ProcessQuery(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)
	ProcessQueryWithProgress(ctx context.Context, req domain.QueryRequest, observer ProgressObserver) (*domain.QueryResponse, error)
}

// ExpertRetriever exposes plain and deep retrieval without answer synthesis.
type ExpertRetriever interface {
	RetrieveExperts(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalResult, *domain.ExecutionTrace, error)
	DeepResearch(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalResult, *domain.ExecutionTrace, error)
}

// ExpertIngestor is the inbound contract for registering experts.
type ExpertIngestor interface {
	Register(ctx context.Context, profile domain.ExpertProfile) (*domain.ExpertProfile, error)
	ImportRoster(ctx context.Context, body io.Reader) ([]domain.ExpertProfile, error)
	AttachCV(ctx context.Context, expertID, filename string, body io.Reader) (*domain.ExpertProfile, error)
}

// ExpertReader is the read model for expert profiles.
type ExpertReader interface {
	GetByID(ctx context.Context, id string) (*domain.ExpertProfile, error)
}

// ExpertIndexer is the inbound contract for asynchronous profile indexing.
type ExpertIndexer interface {
	IndexByID(ctx context.Context, expertID string) error
}

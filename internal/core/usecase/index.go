package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

// IndexExpertUseCase embeds a registered profile and writes it to the vector and graph stores.
type IndexExpertUseCase struct {
	repo     ports.ExpertRepository
	embedder ports.Embedder
	vector   ports.VectorIndexer
	graph    ports.GraphIndexer
}

// NewIndexExpertUseCase builds the worker pipeline. graph may be nil when no graph store is configured.
func NewIndexExpertUseCase(
	repo ports.ExpertRepository,
	embedder ports.Embedder,
	vector ports.VectorIndexer,
	graph ports.GraphIndexer,
) *IndexExpertUseCase {
	return &IndexExpertUseCase{
		repo:     repo,
		embedder: embedder,
		vector:   vector,
		graph:    graph,
	}
}

func (uc *IndexExpertUseCase) IndexByID(ctx context.Context, expertID string) error {
	if err := uc.repo.UpdateStatus(ctx, expertID, domain.ExpertStatusIndexing, ""); err != nil {
		return fmt.Errorf("set status=indexing: %w", err)
	}

	if err := uc.indexPipeline(ctx, expertID); err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, expertID, domain.ExpertStatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.UpdateStatus(ctx, expertID, domain.ExpertStatusIndexed, ""); err != nil {
		return fmt.Errorf("set status=indexed: %w", err)
	}
	return nil
}

func (uc *IndexExpertUseCase) indexPipeline(ctx context.Context, expertID string) error {
	profile, err := uc.repo.GetByID(ctx, expertID)
	if err != nil {
		return fmt.Errorf("fetch expert by id: %w", err)
	}

	text := strings.TrimSpace(profile.ProfileText())
	if text == "" {
		return domain.WrapError(domain.ErrInvalidInput, "build profile text", errors.New("empty profile text"))
	}

	vectors, err := uc.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed profile: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return domain.WrapError(domain.ErrNonTransient, "embed profile", fmt.Errorf("expected one vector, got %d", len(vectors)))
	}

	if err := uc.vector.IndexExpert(ctx, profile, vectors[0]); err != nil {
		return fmt.Errorf("index expert in vector db: %w", err)
	}
	if uc.graph != nil {
		if err := uc.graph.UpsertExpert(ctx, profile); err != nil {
			return fmt.Errorf("upsert expert in graph: %w", err)
		}
	}
	return nil
}

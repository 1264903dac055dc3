package chromem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

const collectionName = "experts"

// Store is the embedded vector backend used when no Qdrant URL is configured.
// Vectors are always supplied by the caller.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// New opens an in-memory store, or a persistent one when dir is set.
func New(dir string) (*Store, error) {
	db := chromem.NewDB()
	if strings.TrimSpace(dir) != "" {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{db: db, collection: col}, nil
}

func (s *Store) IndexExpert(ctx context.Context, profile *domain.ExpertProfile, vector []float32) error {
	if profile == nil || len(vector) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "chromem index expert", errors.New("profile and vector are required"))
	}
	doc := chromem.Document{
		ID:        profile.ID,
		Embedding: append([]float32(nil), vector...),
		Content:   profile.ProfileText(),
		Metadata: map[string]string{
			"name":      profile.Name,
			"seniority": profile.Seniority,
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem add document: %w", err)
	}
	return nil
}

func (s *Store) SearchExperts(ctx context.Context, embedding []float32, maxResults int, minSimilarity float64) ([]domain.SourceHit, error) {
	if len(embedding) == 0 || maxResults <= 0 {
		return nil, nil
	}
	// chromem-go requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if maxResults > count {
		maxResults = count
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, maxResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]domain.SourceHit, 0, len(results))
	for _, r := range results {
		similarity := float64(r.Similarity)
		if similarity < minSimilarity {
			continue
		}
		hits = append(hits, domain.SourceHit{
			ExpertID:   r.ID,
			Similarity: similarity,
			Metadata: map[string]string{
				"name":      r.Metadata["name"],
				"seniority": r.Metadata["seniority"],
			},
		})
	}
	return hits, nil
}

func (s *Store) Count() int {
	return s.collection.Count()
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store expects precomputed embeddings")
}

package chromem

import (
	"context"
	"testing"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

func TestStoreSearchOrdersBySimilarityAndAppliesThreshold(t *testing.T) {
	ctx := context.Background()
	store, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	profiles := map[string][]float32{
		"e-java":   {1, 0, 0},
		"e-mixed":  {0.8, 0.6, 0},
		"e-python": {0, 0, 1},
	}
	for id, vector := range profiles {
		if err := store.IndexExpert(ctx, &domain.ExpertProfile{ID: id, Name: id}, vector); err != nil {
			t.Fatalf("IndexExpert(%s) error = %v", id, err)
		}
	}

	hits, err := store.SearchExperts(ctx, []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("SearchExperts() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %+v", hits)
	}
	if hits[0].ExpertID != "e-java" || hits[1].ExpertID != "e-mixed" {
		t.Fatalf("unexpected order %+v", hits)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Fatalf("expected descending similarity, got %+v", hits)
	}
}

func TestStoreReindexReplacesVector(t *testing.T) {
	ctx := context.Background()
	store, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	profile := &domain.ExpertProfile{ID: "e-1"}
	if err := store.IndexExpert(ctx, profile, []float32{1, 0}); err != nil {
		t.Fatalf("IndexExpert() error = %v", err)
	}
	if err := store.IndexExpert(ctx, profile, []float32{0, 1}); err != nil {
		t.Fatalf("IndexExpert() error = %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("expected one document, got %d", store.Count())
	}
	hits, err := store.SearchExperts(ctx, []float32{0, 1}, 5, 0.9)
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected updated vector to match, hits=%+v err=%v", hits, err)
	}
}

func TestStoreEmptySearch(t *testing.T) {
	store, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hits, err := store.SearchExperts(context.Background(), []float32{1}, 5, 0)
	if err != nil || hits != nil {
		t.Fatalf("expected empty result, got %+v %v", hits, err)
	}
}

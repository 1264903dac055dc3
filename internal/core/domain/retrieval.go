package domain

import "sort"

type SourceName string

const (
	SourceVector  SourceName = "vector"
	SourceGraph   SourceName = "graph"
	SourceKeyword SourceName = "keyword"
)

// AllSources is the fixed fusion order; earlier sources win score ties.
var AllSources = []SourceName{SourceVector, SourceGraph, SourceKeyword}

type SourceHit struct {
	ExpertID   string            `json:"expert_id"`
	Similarity float64           `json:"similarity,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SourceResult is what a single retrieval source returned. Scored is true only for sources
// that report a native similarity (vector).
type SourceResult struct {
	Source SourceName  `json:"source"`
	Hits   []SourceHit `json:"hits"`
	Scored bool        `json:"scored"`
	Err    error       `json:"-"`
}

func (r SourceResult) ExpertIDs() []string {
	out := make([]string, 0, len(r.Hits))
	for _, hit := range r.Hits {
		out = append(out, hit.ExpertID)
	}
	return out
}

// FusionWeights maps a source to its weight in [0,1]. Missing sources fall back to equal weighting.
type FusionWeights map[SourceName]float64

func DefaultFusionWeights() FusionWeights {
	return FusionWeights{
		SourceVector:  1.0,
		SourceGraph:   1.0,
		SourceKeyword: 1.0,
	}
}

// Normalized fills missing entries with the default weight and clamps every weight into [0,1].
// A map whose weights are all zero is replaced by the defaults.
func (w FusionWeights) Normalized() FusionWeights {
	out := DefaultFusionWeights()
	if len(w) == 0 {
		return out
	}
	total := 0.0
	for _, source := range AllSources {
		weight, ok := w[source]
		if !ok {
			weight = out[source]
		}
		if weight < 0 {
			weight = 0
		}
		if weight > 1 {
			weight = 1
		}
		out[source] = weight
		total += weight
	}
	if total == 0 {
		return DefaultFusionWeights()
	}
	return out
}

// RetrievalResult is a ranked list of expert IDs. ExpertIDs order is the final rank and
// every ID has an entry in Scores.
type RetrievalResult struct {
	ExpertIDs []string                `json:"expert_ids"`
	Scores    map[string]float64      `json:"scores"`
	Sources   map[string][]SourceName `json:"sources,omitempty"`
}

func NewRetrievalResult() *RetrievalResult {
	return &RetrievalResult{
		ExpertIDs: []string{},
		Scores:    map[string]float64{},
		Sources:   map[string][]SourceName{},
	}
}

func (r *RetrievalResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ExpertIDs)
}

func (r *RetrievalResult) Score(expertID string) float64 {
	if r == nil {
		return 0
	}
	return r.Scores[expertID]
}

// Top returns at most n leading expert IDs.
func (r *RetrievalResult) Top(n int) []string {
	if r == nil {
		return nil
	}
	if n <= 0 || n >= len(r.ExpertIDs) {
		return append([]string(nil), r.ExpertIDs...)
	}
	return append([]string(nil), r.ExpertIDs[:n]...)
}

// SortedByScore re-sorts ExpertIDs by descending score keeping the current order for ties.
func (r *RetrievalResult) SortedByScore() {
	if r == nil {
		return
	}
	sort.SliceStable(r.ExpertIDs, func(i, j int) bool {
		return r.Scores[r.ExpertIDs[i]] > r.Scores[r.ExpertIDs[j]]
	})
}

// Truncate keeps the first n IDs and drops scores of the rest.
func (r *RetrievalResult) Truncate(n int) {
	if r == nil || n <= 0 || len(r.ExpertIDs) <= n {
		return
	}
	for _, id := range r.ExpertIDs[n:] {
		delete(r.Scores, id)
		delete(r.Sources, id)
	}
	r.ExpertIDs = r.ExpertIDs[:n]
}

type RetrievalOptions struct {
	MaxResults    int
	MinSimilarity float64
	Weights       FusionWeights
	RequireVector bool
}

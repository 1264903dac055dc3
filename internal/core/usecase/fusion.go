package usecase

import (
	"sort"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

const defaultMaxResults = 10

type fusedCandidate struct {
	id      string
	score   float64
	order   int
	sources []domain.SourceName
}

// FuseResults merges per-source results into one ranked list. Scored sources contribute
// weight*similarity, ranked-only sources contribute weight*(N-position)/N. Contributions are
// summed per expert and divided by the total weight so scores stay in [0,1].
// Sources are consumed in domain.AllSources order and ties keep first-seen order.
func FuseResults(sources []domain.SourceResult, weights domain.FusionWeights, maxResults int) *domain.RetrievalResult {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	weights = weights.Normalized()

	totalWeight := 0.0
	for _, source := range domain.AllSources {
		totalWeight += weights[source]
	}

	acc := make(map[string]*fusedCandidate)
	ordered := make([]*fusedCandidate, 0)
	for _, result := range orderSources(sources) {
		weight := weights[result.Source]
		n := len(result.Hits)
		seen := make(map[string]struct{}, n)
		for position, hit := range result.Hits {
			if hit.ExpertID == "" {
				continue
			}
			if _, dup := seen[hit.ExpertID]; dup {
				continue
			}
			seen[hit.ExpertID] = struct{}{}

			var contribution float64
			if result.Scored {
				contribution = weight * clampUnit(hit.Similarity)
			} else {
				contribution = weight * float64(n-position) / float64(n)
			}

			candidate, ok := acc[hit.ExpertID]
			if !ok {
				candidate = &fusedCandidate{id: hit.ExpertID, order: len(ordered)}
				acc[hit.ExpertID] = candidate
				ordered = append(ordered, candidate)
			}
			candidate.score += contribution
			candidate.sources = append(candidate.sources, result.Source)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].order < ordered[j].order
	})
	if len(ordered) > maxResults {
		ordered = ordered[:maxResults]
	}

	out := domain.NewRetrievalResult()
	for _, candidate := range ordered {
		score := 0.0
		if totalWeight > 0 {
			score = clampUnit(candidate.score / totalWeight)
		}
		out.ExpertIDs = append(out.ExpertIDs, candidate.id)
		out.Scores[candidate.id] = score
		out.Sources[candidate.id] = candidate.sources
	}
	return out
}

func orderSources(sources []domain.SourceResult) []domain.SourceResult {
	rank := func(name domain.SourceName) int {
		for i, source := range domain.AllSources {
			if source == name {
				return i
			}
		}
		return len(domain.AllSources)
	}
	out := append([]domain.SourceResult(nil), sources...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Source) < rank(out[j].Source)
	})
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

package domain

type Pattern string

const (
	PatternPlain   Pattern = "PLAIN"
	PatternCascade Pattern = "CASCADE"
	PatternCycle   Pattern = "CYCLE"
)

// PatternSelection is the caller's request for reasoning patterns. Cascade and Cycle are exclusive.
type PatternSelection struct {
	UseRouting bool `json:"use_routing"`
	UseCascade bool `json:"use_cascade"`
	UseCycle   bool `json:"use_cycle"`
}

func (s PatternSelection) Validate() error {
	if s.UseCascade && s.UseCycle {
		return WrapError(ErrInvalidInput, "validate patterns", ErrPatternConflict)
	}
	return nil
}

type QueryOptions struct {
	MaxResults            int              `json:"max_results,omitempty"`
	MinSimilarity         float64          `json:"min_similarity,omitempty"`
	Weights               FusionWeights    `json:"weights,omitempty"`
	Patterns              PatternSelection `json:"patterns"`
	DeepResearch          bool             `json:"deep_research"`
	IncludeExecutionTrace bool             `json:"include_execution_trace"`
	ExcludeCurrentQuery   bool             `json:"exclude_current_query"`
	RequireVector         bool             `json:"require_vector"`
}

type QueryRequest struct {
	Query   string       `json:"query"`
	ChatID  string       `json:"chat_id,omitempty"`
	Options QueryOptions `json:"options"`
}

type SourceReference struct {
	Source    SourceName `json:"source"`
	ExpertIDs []string   `json:"expert_ids"`
}

type QueryEntities struct {
	Skills       []string `json:"skills"`
	Technologies []string `json:"technologies"`
	Domains      []string `json:"domains,omitempty"`
	Customers    []string `json:"customers,omitempty"`
}

type QuerySummary struct {
	Intent                 Intent               `json:"intent"`
	Classification         *QueryClassification `json:"classification,omitempty"`
	Pattern                Pattern              `json:"pattern"`
	PatternFallbackReason  string               `json:"pattern_fallback_reason,omitempty"`
	CandidatesFound        int                  `json:"candidates_found"`
	DeepResearchIterations int                  `json:"deep_research_iterations,omitempty"`
	HistoryMessages        int                  `json:"history_messages"`
}

type QueryResponse struct {
	Answer         string            `json:"answer"`
	RankedExperts  []RankedExpert    `json:"ranked_experts"`
	Sources        []SourceReference `json:"sources"`
	Entities       QueryEntities     `json:"entities"`
	Summary        QuerySummary      `json:"summary"`
	ExecutionTrace *ExecutionTrace   `json:"execution_trace,omitempty"`
}

// ProgressEvent is emitted to optional observers while a query runs.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

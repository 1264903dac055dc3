package domain

type StepStatus string

const (
	StepSuccess StepStatus = "SUCCESS"
	StepFailed  StepStatus = "FAILED"
	StepSkipped StepStatus = "SKIPPED"
)

// TokenUsage keeps nil components distinct from zero: a step without LLM cost has no usage at all.
type TokenUsage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
	TotalTokens  *int `json:"total_tokens,omitempty"`
}

func NewTokenUsage(input, output int) *TokenUsage {
	total := input + output
	return &TokenUsage{
		InputTokens:  &input,
		OutputTokens: &output,
		TotalTokens:  &total,
	}
}

func (u *TokenUsage) IsEmpty() bool {
	return u == nil || (u.InputTokens == nil && u.OutputTokens == nil && u.TotalTokens == nil)
}

// Add sums two usages component-wise. A component stays nil until one side reports it,
// and the result is nil when both sides are empty.
func (u *TokenUsage) Add(other *TokenUsage) *TokenUsage {
	if u.IsEmpty() && other.IsEmpty() {
		return nil
	}
	if u.IsEmpty() {
		return other.clone()
	}
	if other.IsEmpty() {
		return u.clone()
	}
	return &TokenUsage{
		InputTokens:  addOptional(u.InputTokens, other.InputTokens),
		OutputTokens: addOptional(u.OutputTokens, other.OutputTokens),
		TotalTokens:  addOptional(u.TotalTokens, other.TotalTokens),
	}
}

func (u *TokenUsage) clone() *TokenUsage {
	if u == nil {
		return nil
	}
	return &TokenUsage{
		InputTokens:  copyOptional(u.InputTokens),
		OutputTokens: copyOptional(u.OutputTokens),
		TotalTokens:  copyOptional(u.TotalTokens),
	}
}

func addOptional(a, b *int) *int {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return copyOptional(b)
	case b == nil:
		return copyOptional(a)
	default:
		sum := *a + *b
		return &sum
	}
}

func copyOptional(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

type ExecutionStep struct {
	Name          string      `json:"name"`
	Service       string      `json:"service"`
	Method        string      `json:"method"`
	DurationMs    int64       `json:"duration_ms"`
	Status        StepStatus  `json:"status"`
	InputSummary  string      `json:"input_summary,omitempty"`
	OutputSummary string      `json:"output_summary,omitempty"`
	LLMModel      string      `json:"llm_model,omitempty"`
	TokenUsage    *TokenUsage `json:"token_usage,omitempty"`
}

type ExecutionTrace struct {
	Steps           []ExecutionStep `json:"steps"`
	TotalDurationMs int64           `json:"total_duration_ms"`
	TotalTokenUsage *TokenUsage     `json:"total_token_usage,omitempty"`
}

// StepsByStatus counts steps per status; used by metrics and tests.
func (t *ExecutionTrace) StepsByStatus(status StepStatus) int {
	if t == nil {
		return 0
	}
	n := 0
	for _, step := range t.Steps {
		if step.Status == status {
			n++
		}
	}
	return n
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

const (
	patternService            = "PatternController"
	defaultCycleMaxIterations = 3
)

type PatternConfig struct {
	CycleMaxIterations int
}

// GenerationInput is everything answer synthesis may look at.
type GenerationInput struct {
	Query          string
	Parsed         domain.ParsedQuery
	Intent         domain.Intent
	Classification *domain.QueryClassification
	Experts        []domain.ExpertContext
	History        []domain.ConversationMessage
}

type GenerationResult struct {
	Answer     string
	Pattern    domain.Pattern
	Iterations int
}

// PatternController decides how the LLM is invoked for one request and runs the chosen pattern.
type PatternController struct {
	llm ports.StructuredCompleter
	cfg PatternConfig
}

func NewPatternController(llm ports.StructuredCompleter, cfg PatternConfig) *PatternController {
	if cfg.CycleMaxIterations <= 0 {
		cfg.CycleMaxIterations = defaultCycleMaxIterations
	}
	return &PatternController{llm: llm, cfg: cfg}
}

type classificationOutput struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Reasoning    string            `json:"reasoning"`
	Requirements map[string]string `json:"requirements"`
}

// Classify validates the selection and, when routing is requested, asks the model to classify
// the query. It returns nil without an LLM call when routing is off.
func (c *PatternController) Classify(
	ctx context.Context,
	parsed domain.ParsedQuery,
	selection domain.PatternSelection,
	tracer *Tracer,
) (*domain.QueryClassification, error) {
	if err := selection.Validate(); err != nil {
		return nil, err
	}
	if !selection.UseRouting {
		return nil, nil
	}

	var out classificationOutput
	if err := c.completeJSON(ctx, tracer, "routing_classification", ports.StructuredRequest{
		Name:   "query_classification",
		Prompt: buildClassificationPrompt(parsed),
		Schema: classificationSchema,
	}, &out); err != nil {
		return nil, err
	}

	intent, ok := domain.ParseIntent(out.Intent)
	if !ok {
		return nil, domain.WrapError(domain.ErrNonTransient, "classify query", fmt.Errorf("unknown intent %q", out.Intent))
	}
	confidence := int(out.Confidence + 0.5)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return &domain.QueryClassification{
		Intent:       intent,
		Confidence:   confidence,
		Reasoning:    strings.TrimSpace(out.Reasoning),
		Requirements: out.Requirements,
	}, nil
}

// Resolve picks the generation pattern. Cascade needs exactly one expert and Cycle more than one;
// an unmet precondition falls back to PLAIN and the reason is recorded as a skipped step.
func (c *PatternController) Resolve(selection domain.PatternSelection, expertCount int, tracer *Tracer) (domain.Pattern, string) {
	switch {
	case selection.UseCascade && expertCount == 1:
		return domain.PatternCascade, ""
	case selection.UseCascade:
		reason := fmt.Sprintf("cascade requires exactly one expert, got %d", expertCount)
		tracer.SkipStep("cascade", patternService, "Resolve", reason)
		return domain.PatternPlain, reason
	case selection.UseCycle && expertCount > 1:
		return domain.PatternCycle, ""
	case selection.UseCycle:
		reason := fmt.Sprintf("cycle requires more than one expert, got %d", expertCount)
		tracer.SkipStep("cycle", patternService, "Resolve", reason)
		return domain.PatternPlain, reason
	default:
		return domain.PatternPlain, ""
	}
}

func (c *PatternController) Generate(
	ctx context.Context,
	in GenerationInput,
	pattern domain.Pattern,
	tracer *Tracer,
) (GenerationResult, error) {
	if in.Classification != nil && in.Classification.Intent != "" {
		in.Intent = in.Classification.Intent
	}
	if in.Intent == "" {
		in.Intent = in.Parsed.Intent
	}

	switch pattern {
	case domain.PatternCascade:
		return c.generateCascade(ctx, in, tracer)
	case domain.PatternCycle:
		return c.generateCycle(ctx, in, tracer)
	default:
		answer, err := c.completeText(ctx, tracer, "answer_generation", buildPlainPrompt(in))
		if err != nil {
			return GenerationResult{}, err
		}
		return GenerationResult{Answer: answer, Pattern: domain.PatternPlain, Iterations: 1}, nil
	}
}

type requirementMapping struct {
	Requirement string `json:"requirement"`
	Evidence    string `json:"evidence"`
	Satisfied   bool   `json:"satisfied"`
}

type cascadeOutput struct {
	ExpertSummary      string               `json:"expertSummary"`
	RequirementMapping []requirementMapping `json:"requirementMapping"`
	Answer             string               `json:"answer"`
}

func (c *PatternController) generateCascade(ctx context.Context, in GenerationInput, tracer *Tracer) (GenerationResult, error) {
	var out cascadeOutput
	if err := c.completeJSON(ctx, tracer, "cascade_generation", ports.StructuredRequest{
		Name:   "cascade_answer",
		Prompt: buildCascadePrompt(in),
		Schema: cascadeSchema,
	}, &out); err != nil {
		return GenerationResult{}, err
	}
	if strings.TrimSpace(out.Answer) == "" || strings.TrimSpace(out.ExpertSummary) == "" {
		return GenerationResult{}, domain.WrapError(domain.ErrNonTransient, "cascade generation", errors.New("missing expertSummary or answer"))
	}
	return GenerationResult{Answer: strings.TrimSpace(out.Answer), Pattern: domain.PatternCascade, Iterations: 1}, nil
}

type cycleCritique struct {
	HasGaps  bool     `json:"hasGaps"`
	Gaps     []string `json:"gaps"`
	Feedback string   `json:"feedback"`
}

func (c *PatternController) generateCycle(ctx context.Context, in GenerationInput, tracer *Tracer) (GenerationResult, error) {
	candidate, err := c.completeText(ctx, tracer, "cycle_generation", buildPlainPrompt(in))
	if err != nil {
		return GenerationResult{}, err
	}

	iterations := 1
	for iterations < c.cfg.CycleMaxIterations {
		var critique cycleCritique
		if err := c.completeJSON(ctx, tracer, "cycle_critique", ports.StructuredRequest{
			Name:   "answer_critique",
			Prompt: buildCritiquePrompt(in, candidate),
			Schema: critiqueSchema,
		}, &critique); err != nil {
			return GenerationResult{}, err
		}
		if !critique.HasGaps {
			break
		}

		revised, err := c.completeText(ctx, tracer, "cycle_generation", buildRevisionPrompt(in, candidate, critique))
		if err != nil {
			return GenerationResult{}, err
		}
		candidate = revised
		iterations++
	}

	return GenerationResult{Answer: candidate, Pattern: domain.PatternCycle, Iterations: iterations}, nil
}

func (c *PatternController) completeText(ctx context.Context, tracer *Tracer, step, prompt string) (string, error) {
	handle := tracer.StartStep(step, "StructuredCompleter", "CompleteText")
	resp, err := c.llm.CompleteText(ctx, prompt)
	if err != nil {
		handle.Fail(summarize(prompt), err.Error())
		return "", fmt.Errorf("%s: %w", step, err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		handle.Fail(summarize(prompt), "empty completion")
		return "", domain.WrapError(domain.ErrNonTransient, step, errors.New("empty completion"))
	}
	handle.EndWithLLM(summarize(prompt), summarize(answer), resp.Model, resp.Usage)
	return answer, nil
}

// completeJSON runs one structured completion and decodes it into out. Output that is not a
// JSON object is a non-transient failure.
func completeJSON(
	ctx context.Context,
	llm ports.StructuredCompleter,
	tracer *Tracer,
	step string,
	req ports.StructuredRequest,
	out any,
) error {
	handle := tracer.StartStep(step, "StructuredCompleter", "CompleteStructured")
	resp, err := llm.CompleteStructured(ctx, req)
	if err != nil {
		handle.Fail(summarize(req.Prompt), err.Error())
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
		handle.Fail(summarize(req.Prompt), "malformed structured output")
		return domain.WrapError(domain.ErrNonTransient, step, fmt.Errorf("decode structured output: %w", err))
	}
	handle.EndWithLLM(summarize(req.Prompt), summarize(resp.Content), resp.Model, resp.Usage)
	return nil
}

func (c *PatternController) completeJSON(ctx context.Context, tracer *Tracer, step string, req ports.StructuredRequest, out any) error {
	return completeJSON(ctx, c.llm, tracer, step, req, out)
}

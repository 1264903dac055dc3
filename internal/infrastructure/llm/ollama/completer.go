package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

// Completer implements ports.StructuredCompleter on /api/generate. Structured requests pass the
// JSON schema as the "format" field.
type Completer struct {
	client *Client
}

func NewCompleter(client *Client) *Completer {
	return &Completer{client: client}
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	PromptEvalCount *int   `json:"prompt_eval_count"`
	EvalCount       *int   `json:"eval_count"`
}

func (c *Completer) CompleteStructured(ctx context.Context, req ports.StructuredRequest) (ports.LLMResponse, error) {
	var format any = "json"
	if len(req.Schema) > 0 {
		format = req.Schema
	}
	resp, err := c.client.generate(ctx, map[string]any{
		"model":  c.client.genModel,
		"prompt": req.Prompt,
		"stream": false,
		"format": format,
	})
	if err != nil {
		return ports.LLMResponse{}, err
	}

	content := extractJSONObject(resp.Content)
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &object); err != nil {
		return ports.LLMResponse{}, domain.WrapError(domain.ErrNonTransient, "ollama "+req.Name, errors.New("model output is not a JSON object"))
	}
	resp.Content = content
	return resp, nil
}

func (c *Completer) CompleteText(ctx context.Context, prompt string) (ports.LLMResponse, error) {
	return c.client.generate(ctx, map[string]any{
		"model":  c.client.genModel,
		"prompt": prompt,
		"stream": false,
	})
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (ports.LLMResponse, error) {
	var response generateResponse
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return ports.LLMResponse{}, err
	}
	model := response.Model
	if model == "" {
		model = c.genModel
	}
	return ports.LLMResponse{
		Content: strings.TrimSpace(response.Response),
		Model:   model,
		Usage:   usageFromCounts(response.PromptEvalCount, response.EvalCount),
	}, nil
}

func usageFromCounts(prompt, eval *int) *domain.TokenUsage {
	if prompt == nil && eval == nil {
		return nil
	}
	usage := &domain.TokenUsage{InputTokens: prompt, OutputTokens: eval}
	total := 0
	if prompt != nil {
		total += *prompt
	}
	if eval != nil {
		total += *eval
	}
	usage.TotalTokens = &total
	return usage
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

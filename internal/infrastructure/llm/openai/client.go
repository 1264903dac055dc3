package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
	"github.com/kirillkom/expert-match/internal/infrastructure/resilience"
)

// Client serves ports.StructuredCompleter and ports.Embedder from an OpenAI-compatible API.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
	executor   *resilience.Executor
}

// New builds a client. baseURL may be empty for api.openai.com.
func New(apiKey, baseURL, chatModel, embedModel string, executor *resilience.Executor) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		api:        openai.NewClientWithConfig(cfg),
		chatModel:  chatModel,
		embedModel: embedModel,
		executor:   executor,
	}
}

func (c *Client) CompleteStructured(ctx context.Context, req ports.StructuredRequest) (ports.LLMResponse, error) {
	format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if len(req.Schema) > 0 {
		format = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName(req.Name),
				Schema: req.Schema,
			},
		}
	}

	resp, err := c.chat(ctx, req.Prompt, format)
	if err != nil {
		return ports.LLMResponse{}, err
	}
	content := strings.TrimSpace(resp.Content)
	if !strings.HasPrefix(content, "{") || !strings.HasSuffix(content, "}") {
		return ports.LLMResponse{}, domain.WrapError(domain.ErrNonTransient, "openai "+req.Name, errors.New("model output is not a JSON object"))
	}
	resp.Content = content
	return resp, nil
}

func (c *Client) CompleteText(ctx context.Context, prompt string) (ports.LLMResponse, error) {
	return c.chat(ctx, prompt, nil)
}

func (c *Client) chat(ctx context.Context, prompt string, format *openai.ChatCompletionResponseFormat) (ports.LLMResponse, error) {
	request := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: format,
	}

	resp, err := resilience.Call(ctx, c.executor, "openai.chat", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, request)
	}, classifyOpenAIError)
	if err != nil {
		return ports.LLMResponse{}, resilience.WrapTemporary("openai chat", err, classifyOpenAIError)
	}
	if len(resp.Choices) == 0 {
		return ports.LLMResponse{}, domain.WrapError(domain.ErrNonTransient, "openai chat", errors.New("no choices returned"))
	}

	var usage *domain.TokenUsage
	if resp.Usage.TotalTokens > 0 {
		usage = domain.NewTokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	model := resp.Model
	if model == "" {
		model = c.chatModel
	}
	return ports.LLMResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   model,
		Usage:   usage,
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := resilience.Call(ctx, c.executor, "openai.embed", func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.embedModel),
		})
	}, classifyOpenAIError)
	if err != nil {
		return nil, resilience.WrapTemporary("openai embed", err, classifyOpenAIError)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.WrapError(domain.ErrNonTransient, "openai embed", fmt.Errorf("returned %d embeddings, expected %d", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = item.Embedding
	}
	return out, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, domain.WrapError(domain.ErrNonTransient, "openai embed", errors.New("empty embedding result"))
	}
	return vectors[0], nil
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyHTTP(&resilience.HTTPStatusError{Service: "openai", StatusCode: apiErr.HTTPStatusCode})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ClassifyHTTP(&resilience.HTTPStatusError{Service: "openai", StatusCode: reqErr.HTTPStatusCode})
	}
	return resilience.ClassifyHTTP(err)
}

func schemaName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		return "response"
	}
	return name
}

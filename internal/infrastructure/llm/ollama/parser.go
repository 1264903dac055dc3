package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

var parseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "intent": {"type": "string", "enum": ["EXPERT_SEARCH", "TEAM_FORMATION", "RFP_RESPONSE", "DOMAIN_INQUIRY"]},
    "skills": {"type": "array", "items": {"type": "string"}},
    "technologies": {"type": "array", "items": {"type": "string"}},
    "domains": {"type": "array", "items": {"type": "string"}},
    "customers": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["intent", "skills", "technologies"]
}`)

// QueryParser extracts intent and search terms from a request with one structured completion.
type QueryParser struct {
	completer ports.StructuredCompleter
}

func NewQueryParser(completer ports.StructuredCompleter) *QueryParser {
	return &QueryParser{completer: completer}
}

type parsedOutput struct {
	Intent       string   `json:"intent"`
	Skills       []string `json:"skills"`
	Technologies []string `json:"technologies"`
	Domains      []string `json:"domains"`
	Customers    []string `json:"customers"`
}

func (p *QueryParser) Parse(ctx context.Context, text string) (domain.ParsedQuery, ports.LLMResponse, error) {
	resp, err := p.completer.CompleteStructured(ctx, ports.StructuredRequest{
		Name:   "query_parsing",
		Prompt: buildParsePrompt(text),
		Schema: parseSchema,
	})
	if err != nil {
		return domain.ParsedQuery{}, ports.LLMResponse{}, err
	}

	var out parsedOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return domain.ParsedQuery{}, ports.LLMResponse{}, domain.WrapError(domain.ErrNonTransient, "parse query", fmt.Errorf("decode parser output: %w", err))
	}
	intent, ok := domain.ParseIntent(out.Intent)
	if !ok {
		intent = domain.IntentExpertSearch
	}
	return domain.NewParsedQuery(intent, text, out.Skills, out.Technologies, out.Domains, out.Customers), resp, nil
}

func buildParsePrompt(text string) string {
	return `You extract search criteria from staffing requests.
Return JSON with:
intent (EXPERT_SEARCH, TEAM_FORMATION, RFP_RESPONSE or DOMAIN_INQUIRY),
skills (abilities such as "Java", "solution architecture"),
technologies (frameworks, products and platforms such as "Spring Boot", "Kafka"),
domains (business domains such as "banking"),
customers (named client companies).
Use empty arrays when nothing is mentioned. Do not invent terms.

Request:
` + text
}

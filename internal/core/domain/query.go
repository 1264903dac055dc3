package domain

import (
	"strings"
)

type Intent string

const (
	IntentExpertSearch  Intent = "EXPERT_SEARCH"
	IntentTeamFormation Intent = "TEAM_FORMATION"
	IntentRFPResponse   Intent = "RFP_RESPONSE"
	IntentDomainInquiry Intent = "DOMAIN_INQUIRY"
)

// ParseIntent normalises a free-form intent label. Unknown labels are reported with ok=false.
func ParseIntent(raw string) (Intent, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch Intent(normalized) {
	case IntentExpertSearch, IntentTeamFormation, IntentRFPResponse, IntentDomainInquiry:
		return Intent(normalized), true
	default:
		return "", false
	}
}

// ParsedQuery is the structured form of a user request. It is built once per request
// and treated as read-only afterwards.
type ParsedQuery struct {
	Intent       Intent   `json:"intent"`
	Skills       []string `json:"skills"`
	Technologies []string `json:"technologies"`
	Domains      []string `json:"domains,omitempty"`
	Customers    []string `json:"customers,omitempty"`
	Text         string   `json:"text"`
}

func NewParsedQuery(intent Intent, text string, skills, technologies, domains, customers []string) ParsedQuery {
	if intent == "" {
		intent = IntentExpertSearch
	}
	return ParsedQuery{
		Intent:       intent,
		Skills:       NormalizeTerms(skills),
		Technologies: NormalizeTerms(technologies),
		Domains:      NormalizeTerms(domains),
		Customers:    NormalizeTerms(customers),
		Text:         strings.TrimSpace(text),
	}
}

func (q ParsedQuery) IsEmpty() bool {
	return strings.TrimSpace(q.Text) == "" &&
		len(q.Skills) == 0 &&
		len(q.Technologies) == 0 &&
		len(q.Domains) == 0 &&
		len(q.Customers) == 0
}

// Terms returns skills and technologies in a stable order, used for keyword and embedding fallbacks.
func (q ParsedQuery) Terms() []string {
	out := make([]string, 0, len(q.Skills)+len(q.Technologies))
	out = append(out, q.Skills...)
	out = append(out, q.Technologies...)
	return NormalizeTerms(out)
}

// SearchText is the text embedded for vector search.
func (q ParsedQuery) SearchText() string {
	if text := strings.TrimSpace(q.Text); text != "" {
		return text
	}
	return strings.Join(q.Terms(), " ")
}

// Expand returns a copy with the extra terms merged in. The receiver is not modified.
func (q ParsedQuery) Expand(skills, technologies, domains []string) ParsedQuery {
	out := q
	out.Skills = NormalizeTerms(append(append([]string{}, q.Skills...), skills...))
	out.Technologies = NormalizeTerms(append(append([]string{}, q.Technologies...), technologies...))
	out.Domains = NormalizeTerms(append(append([]string{}, q.Domains...), domains...))
	out.Customers = append([]string{}, q.Customers...)
	return out
}

// NormalizeTerms trims, drops empties and deduplicates case-insensitively keeping the first spelling.
func NormalizeTerms(terms []string) []string {
	if len(terms) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	return out
}

type QueryClassification struct {
	Intent       Intent            `json:"intent"`
	Confidence   int               `json:"confidence"`
	Reasoning    string            `json:"reasoning"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

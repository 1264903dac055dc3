package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

var classificationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "intent": {"type": "string", "enum": ["EXPERT_SEARCH", "TEAM_FORMATION", "RFP_RESPONSE", "DOMAIN_INQUIRY"]},
    "confidence": {"type": "integer", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"},
    "requirements": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "required": ["intent", "confidence", "reasoning"]
}`)

var cascadeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "expertSummary": {"type": "string"},
    "requirementMapping": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "requirement": {"type": "string"},
          "evidence": {"type": "string"},
          "satisfied": {"type": "boolean"}
        },
        "required": ["requirement", "evidence", "satisfied"]
      }
    },
    "answer": {"type": "string"}
  },
  "required": ["expertSummary", "requirementMapping", "answer"]
}`)

var critiqueSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "hasGaps": {"type": "boolean"},
    "gaps": {"type": "array", "items": {"type": "string"}},
    "feedback": {"type": "string"}
  },
  "required": ["hasGaps", "gaps", "feedback"]
}`)

var gapAnalysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "sufficient": {"type": "boolean"},
    "missingSkills": {"type": "array", "items": {"type": "string"}},
    "missingTechnologies": {"type": "array", "items": {"type": "string"}},
    "missingDomains": {"type": "array", "items": {"type": "string"}},
    "reasoning": {"type": "string"}
  },
  "required": ["sufficient", "missingSkills", "missingTechnologies", "missingDomains"]
}`)

var intentInstructions = map[domain.Intent]string{
	domain.IntentExpertSearch:  "Recommend the best matching experts for the request and explain why each one fits.",
	domain.IntentTeamFormation: "Propose a team from the experts below. Cover every required skill and name the role of each member.",
	domain.IntentRFPResponse:   "Draft the staffing section of an RFP response. Reference concrete project experience of each expert.",
	domain.IntentDomainInquiry: "Explain which experts know the business domain in question and summarise their domain experience.",
}

func intentInstruction(intent domain.Intent) string {
	if text, ok := intentInstructions[intent]; ok {
		return text
	}
	return intentInstructions[domain.IntentExpertSearch]
}

func buildClassificationPrompt(parsed domain.ParsedQuery) string {
	return fmt.Sprintf(`Classify the staffing request below.
Return JSON with intent, confidence (0-100), reasoning and requirements (requirement name -> short description).

Request:
%s

Extracted skills: %s
Extracted technologies: %s
`, parsed.Text, strings.Join(parsed.Skills, ", "), strings.Join(parsed.Technologies, ", "))
}

func buildPlainPrompt(in GenerationInput) string {
	var b strings.Builder
	b.WriteString(intentInstruction(in.Intent))
	b.WriteString("\nUse only the expert profiles below. If none fit, say it directly.\n\n")
	writeHistory(&b, in.History)
	b.WriteString("Request:\n")
	b.WriteString(in.Query)
	b.WriteString("\n\nExperts:\n")
	writeExperts(&b, in.Experts)
	return b.String()
}

func buildCascadePrompt(in GenerationInput) string {
	var b strings.Builder
	b.WriteString(intentInstruction(in.Intent))
	b.WriteString(`
Reason in three ordered stages and return them as JSON:
1. expertSummary: summarise the expert profile.
2. requirementMapping: map every requirement of the request to evidence from the profile.
3. answer: the final answer for the user, based only on stages 1 and 2.

`)
	writeHistory(&b, in.History)
	b.WriteString("Request:\n")
	b.WriteString(in.Query)
	b.WriteString("\n\nExpert:\n")
	writeExperts(&b, in.Experts)
	return b.String()
}

func buildCritiquePrompt(in GenerationInput, candidate string) string {
	var b strings.Builder
	b.WriteString(`Review the draft answer against the request and the expert profiles.
Report hasGaps=true when the draft misses a requirement, recommends an expert that is not listed or
misstates an expert's experience. List each gap and give concise feedback.

Request:
`)
	b.WriteString(in.Query)
	b.WriteString("\n\nExperts:\n")
	writeExperts(&b, in.Experts)
	b.WriteString("\nDraft answer:\n")
	b.WriteString(candidate)
	b.WriteString("\n")
	return b.String()
}

func buildRevisionPrompt(in GenerationInput, candidate string, critique cycleCritique) string {
	var b strings.Builder
	b.WriteString(buildPlainPrompt(in))
	b.WriteString("\nPrevious draft:\n")
	b.WriteString(candidate)
	b.WriteString("\n\nReviewer gaps:\n")
	for _, gap := range critique.Gaps {
		b.WriteString("- ")
		b.WriteString(gap)
		b.WriteString("\n")
	}
	if critique.Feedback != "" {
		b.WriteString("Feedback: ")
		b.WriteString(critique.Feedback)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite an improved answer that closes every gap.\n")
	return b.String()
}

func buildGapAnalysisPrompt(parsed domain.ParsedQuery, experts []domain.ExpertContext) string {
	var b strings.Builder
	b.WriteString(`Decide whether the experts below cover the request.
Set sufficient=true when they do. Otherwise list the missing skills, technologies and domains
that a follow-up search should look for. Only list terms that none of the experts has.

Request:
`)
	b.WriteString(parsed.Text)
	fmt.Fprintf(&b, "\nRequired skills: %s\nRequired technologies: %s\nDomains: %s\n\nExperts:\n",
		strings.Join(parsed.Skills, ", "),
		strings.Join(parsed.Technologies, ", "),
		strings.Join(parsed.Domains, ", "),
	)
	writeExperts(&b, experts)
	return b.String()
}

func buildSummaryPrompt(messages []domain.ConversationMessage, maxTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarise the earlier part of this conversation in at most %d words. Keep names of experts, skills and decisions.\n\n", maxTokens*3/4)
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

func writeHistory(b *strings.Builder, history []domain.ConversationMessage) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Conversation so far:\n")
	for _, msg := range history {
		fmt.Fprintf(b, "%s: %s\n", msg.Role, msg.Content)
	}
	b.WriteString("\n")
}

func writeExperts(b *strings.Builder, experts []domain.ExpertContext) {
	if len(experts) == 0 {
		b.WriteString("(no experts found)\n")
		return
	}
	for idx, expert := range experts {
		fmt.Fprintf(b, "[%d] id=%s name=%s", idx+1, expert.ID, expert.Name)
		if expert.Seniority != "" {
			fmt.Fprintf(b, " seniority=%s", expert.Seniority)
		}
		b.WriteString("\n")
		if len(expert.Skills) > 0 {
			fmt.Fprintf(b, "  skills: %s\n", strings.Join(expert.Skills, ", "))
		}
		if len(expert.Technologies) > 0 {
			fmt.Fprintf(b, "  technologies: %s\n", strings.Join(expert.Technologies, ", "))
		}
		if len(expert.Domains) > 0 {
			fmt.Fprintf(b, "  domains: %s\n", strings.Join(expert.Domains, ", "))
		}
		for _, project := range expert.Projects {
			fmt.Fprintf(b, "  project: %s (customer=%s, role=%s, tech=%s)\n",
				project.Name, project.Customer, project.Role, strings.Join(project.Technologies, ", "))
		}
	}
}

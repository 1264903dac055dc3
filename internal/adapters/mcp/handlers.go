package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

const defaultToolMaxResults = 10

func (s *Server) handleFindExperts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	opts := domain.QueryOptions{
		MaxResults:   positiveOr(request.GetInt("max_results", defaultToolMaxResults), defaultToolMaxResults),
		DeepResearch: request.GetBool("deep_research", false),
	}
	opts.Patterns.UseRouting = request.GetBool("use_routing", false)
	switch pattern := strings.ToLower(strings.TrimSpace(request.GetString("pattern", ""))); pattern {
	case "", "plain":
	case "cascade":
		opts.Patterns.UseCascade = true
	case "cycle":
		opts.Patterns.UseCycle = true
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown pattern %q: use plain, cascade or cycle", pattern)), nil
	}

	resp, err := s.query.ProcessQuery(ctx, domain.QueryRequest{
		Query:   query,
		ChatID:  request.GetString("chat_id", ""),
		Options: opts,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAnswer(resp)), nil
}

func (s *Server) handleRetrieveExperts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	result, _, err := s.retriever.RetrieveExperts(ctx, domain.QueryRequest{
		Query: query,
		Options: domain.QueryOptions{
			MaxResults:    positiveOr(request.GetInt("max_results", defaultToolMaxResults), defaultToolMaxResults),
			MinSimilarity: request.GetFloat("min_similarity", 0),
		},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
	}
	if result.Len() == 0 {
		return mcp.NewToolResultText("No matching experts found. Experts may not be indexed yet."), nil
	}
	return mcp.NewToolResultText(formatRetrieval(result)), nil
}

func (s *Server) handleGetExpert(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	profile, err := s.experts.GetByID(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.ErrExpertNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("expert %q not found", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load expert: %v", err)), nil
	}
	raw, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal expert: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func formatAnswer(resp *domain.QueryResponse) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(resp.Answer))
	if len(resp.RankedExperts) == 0 {
		return b.String()
	}
	b.WriteString("\n\n## Ranked experts\n")
	for _, ranked := range resp.RankedExperts {
		fmt.Fprintf(&b, "%d. %s (%s) score=%.3f", ranked.Rank, ranked.Expert.Name, ranked.Expert.ID, ranked.RelevanceScore)
		if len(ranked.Sources) > 0 {
			names := make([]string, 0, len(ranked.Sources))
			for _, source := range ranked.Sources {
				names = append(names, string(source))
			}
			fmt.Fprintf(&b, " via %s", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatRetrieval(result *domain.RetrievalResult) string {
	var b strings.Builder
	for idx, id := range result.ExpertIDs {
		fmt.Fprintf(&b, "%d. %s score=%.3f\n", idx+1, id, result.Score(id))
	}
	return b.String()
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

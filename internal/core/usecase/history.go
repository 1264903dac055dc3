package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

const historyService = "HistoryCompressor"

type HistoryConfig struct {
	TokenBudget           int
	SummaryReserveRatio   float64
	CharsPerToken         int
	MessageOverheadTokens int
	MaxMessages           int
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		TokenBudget:           2000,
		SummaryReserveRatio:   0.05,
		CharsPerToken:         4,
		MessageOverheadTokens: 4,
		MaxMessages:           200,
	}
}

// HistoryCompressor fits chat history into a token budget, replacing the oldest messages
// with a single system summary.
type HistoryCompressor struct {
	store ports.ChatHistoryStore
	llm   ports.StructuredCompleter
	cfg   HistoryConfig
}

func NewHistoryCompressor(store ports.ChatHistoryStore, llm ports.StructuredCompleter, cfg HistoryConfig) *HistoryCompressor {
	defaults := DefaultHistoryConfig()
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaults.TokenBudget
	}
	if cfg.SummaryReserveRatio <= 0 || cfg.SummaryReserveRatio >= 1 {
		cfg.SummaryReserveRatio = defaults.SummaryReserveRatio
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = defaults.CharsPerToken
	}
	if cfg.MessageOverheadTokens <= 0 {
		cfg.MessageOverheadTokens = defaults.MessageOverheadTokens
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaults.MaxMessages
	}
	return &HistoryCompressor{store: store, llm: llm, cfg: cfg}
}

// EstimateTokens is ceil(runes/CharsPerToken) plus the per-message overhead.
func (h *HistoryCompressor) EstimateTokens(content string) int {
	runes := len([]rune(content))
	return (runes+h.cfg.CharsPerToken-1)/h.cfg.CharsPerToken + h.cfg.MessageOverheadTokens
}

func (h *HistoryCompressor) EstimateHistory(messages []domain.ConversationMessage) int {
	total := 0
	for _, msg := range messages {
		total += h.EstimateTokens(msg.Content)
	}
	return total
}

func (h *HistoryCompressor) GetOptimizedHistory(
	ctx context.Context,
	chatID string,
	excludeCurrentQuery bool,
	tracer *Tracer,
) ([]domain.ConversationMessage, error) {
	if strings.TrimSpace(chatID) == "" || h.store == nil {
		return []domain.ConversationMessage{}, nil
	}

	step := tracer.StartStep("history_load", "ChatHistoryStore", "ListMessages")
	messages, err := h.store.ListMessages(ctx, chatID, h.cfg.MaxMessages)
	if err != nil {
		step.Fail(chatID, err.Error())
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	step.End(chatID, fmt.Sprintf("messages=%d", len(messages)))

	messages = append([]domain.ConversationMessage(nil), messages...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SequenceNumber < messages[j].SequenceNumber
	})
	if excludeCurrentQuery && len(messages) > 0 {
		messages = messages[:len(messages)-1]
	}
	if len(messages) == 0 || h.EstimateHistory(messages) <= h.cfg.TokenBudget {
		return messages, nil
	}

	return h.compress(ctx, chatID, messages, tracer), nil
}

func (h *HistoryCompressor) compress(
	ctx context.Context,
	chatID string,
	messages []domain.ConversationMessage,
	tracer *Tracer,
) []domain.ConversationMessage {
	budget := h.cfg.TokenBudget
	reserve := int(float64(budget) * h.cfg.SummaryReserveRatio)
	if reserve < h.cfg.MessageOverheadTokens+1 {
		reserve = h.cfg.MessageOverheadTokens + 1
	}

	cut := len(messages)
	running := 0
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := h.EstimateTokens(messages[i].Content)
		if running+tokens > budget-reserve {
			break
		}
		running += tokens
		cut = i
	}
	older := messages[:cut]
	retained := messages[cut:]

	// The summary must fit what is left after the retained messages.
	maxSummaryTokens := budget - running - h.cfg.MessageOverheadTokens
	for maxSummaryTokens < 1 && len(retained) > 0 {
		running -= h.EstimateTokens(retained[0].Content)
		older = messages[:len(older)+1]
		retained = retained[1:]
		maxSummaryTokens = budget - running - h.cfg.MessageOverheadTokens
	}
	maxRunes := maxSummaryTokens * h.cfg.CharsPerToken

	summary := h.summarize(ctx, older, maxSummaryTokens, tracer)
	summary = truncateRunes(summary, maxRunes)

	last := older[len(older)-1]
	tokens := h.EstimateTokens(summary)
	out := make([]domain.ConversationMessage, 0, len(retained)+1)
	out = append(out, domain.ConversationMessage{
		ChatID:         chatID,
		MessageType:    domain.MessageTypeSummary,
		Role:           domain.RoleSystem,
		Content:        summary,
		SequenceNumber: last.SequenceNumber,
		TokensUsed:     &tokens,
		CreatedAt:      last.CreatedAt,
	})
	out = append(out, retained...)
	return out
}

func (h *HistoryCompressor) summarize(
	ctx context.Context,
	older []domain.ConversationMessage,
	maxTokens int,
	tracer *Tracer,
) string {
	input := fmt.Sprintf("messages=%d", len(older))
	step := tracer.StartStep("history_summary", historyService, "Summarize")
	if h.llm == nil {
		step.Fail(input, "no summarizer configured")
		return extractiveSummary(older)
	}

	resp, err := h.llm.CompleteText(ctx, buildSummaryPrompt(older, maxTokens))
	if err == nil && strings.TrimSpace(resp.Content) != "" {
		step.EndWithLLM(input, summarize(resp.Content), resp.Model, resp.Usage)
		return "Summary of earlier conversation: " + strings.TrimSpace(resp.Content)
	}

	reason := "empty summary"
	if err != nil {
		reason = err.Error()
	}
	step.Fail(input, reason)
	slog.Warn("history_summary_fallback", "messages", len(older), "error", reason)
	return extractiveSummary(older)
}

// extractiveSummary keeps the leading sentence of each older user turn.
func extractiveSummary(older []domain.ConversationMessage) string {
	var b strings.Builder
	b.WriteString("Summary of earlier conversation:")
	for _, msg := range older {
		if msg.Role != domain.RoleUser {
			continue
		}
		line := strings.TrimSpace(msg.Content)
		if idx := strings.IndexAny(line, ".?!\n"); idx > 0 {
			line = line[:idx]
		}
		if line == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(truncateRunes(line, 160))
		b.WriteString(";")
	}
	return b.String()
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

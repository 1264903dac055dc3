package httpadapter

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/kirillkom/expert-match/internal/config"
	"github.com/kirillkom/expert-match/internal/core/domain"
)

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan sse body: %v", err)
	}
	return events
}

func TestProcessQueryReturnsAnswer(t *testing.T) {
	query := &queryFake{}
	handler := newTestRouter(t, config.Config{}, query, nil, nil)

	res := postJSON(t, handler, "/v1/query", map[string]any{
		"query":   "Who knows Go and Kafka?",
		"chat_id": "chat-1",
		"options": map[string]any{
			"max_results": 5,
			"weights":     map[string]float64{"vector": 0.7, "graph": 0.2, "keyword": 0.1},
			"patterns":    map[string]bool{"use_cascade": true},
		},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var resp domain.QueryResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer == "" || len(resp.RankedExperts) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if query.last.ChatID != "chat-1" || !query.last.Options.Patterns.UseCascade {
		t.Fatalf("request not passed through: %+v", query.last)
	}
	if query.last.Options.Weights[domain.SourceVector] != 0.7 {
		t.Fatalf("weights not decoded: %+v", query.last.Options.Weights)
	}
}

func TestStreamQueryEmitsProgressThenResult(t *testing.T) {
	query := &queryFake{events: []domain.ProgressEvent{
		{Stage: "parsing", Message: "parsing query"},
		{Stage: "retrieval", Message: "searching experts"},
	}}
	handler := newTestRouter(t, config.Config{}, query, nil, nil)

	res := postJSON(t, handler, "/v1/query/stream", map[string]any{"query": "Who knows Go?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := parseSSE(t, res.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].name != "progress" || events[1].name != "progress" || events[2].name != "result" {
		t.Fatalf("unexpected event order: %+v", events)
	}
	var progress domain.ProgressEvent
	if err := json.Unmarshal([]byte(events[1].data), &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.Stage != "retrieval" {
		t.Fatalf("unexpected progress event: %+v", progress)
	}
}

func TestStreamQueryErrorBeforeProgressIsPlainJSON(t *testing.T) {
	query := &queryFake{err: domain.WrapError(domain.ErrInvalidInput, "validate patterns", domain.ErrPatternConflict)}
	handler := newTestRouter(t, config.Config{}, query, nil, nil)

	res := postJSON(t, handler, "/v1/query/stream", map[string]any{"query": "Who knows Go?"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestStreamQueryErrorAfterProgressIsErrorEvent(t *testing.T) {
	query := &queryFake{
		events: []domain.ProgressEvent{{Stage: "parsing", Message: "parsing query"}},
		err:    domain.WrapError(domain.ErrTemporary, "generate answer", errors.New("llm down")),
	}
	handler := newTestRouter(t, config.Config{}, query, nil, nil)

	res := postJSON(t, handler, "/v1/query/stream", map[string]any{"query": "Who knows Go?"})
	events := parseSSE(t, res.Body.String())
	if len(events) != 2 || events[1].name != "error" {
		t.Fatalf("expected progress then error event, got %+v", events)
	}
	if !strings.Contains(events[1].data, "llm down") {
		t.Fatalf("error event lacks cause: %s", events[1].data)
	}
}

func TestRetrieveOmitsTraceUnlessRequested(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, nil, nil, nil)

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "kafka"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var plain map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&plain); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := plain["execution_trace"]; ok {
		t.Fatalf("trace must be omitted by default")
	}

	res = postJSON(t, handler, "/v1/deep-research", map[string]any{
		"query":   "kafka",
		"options": map[string]any{"include_execution_trace": true},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var withTrace retrievalResponse
	if err := json.NewDecoder(res.Body).Decode(&withTrace); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if withTrace.ExecutionTrace == nil {
		t.Fatalf("expected execution trace when requested")
	}
	if withTrace.Result.ExpertIDs[0] != "e-1" {
		t.Fatalf("unexpected result order: %+v", withTrace.Result)
	}
}

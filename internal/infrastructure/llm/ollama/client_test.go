package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
	"github.com/kirillkom/expert-match/internal/infrastructure/resilience"
)

func TestCompleteStructuredSendsSchemaAndReportsUsage(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama3","response":"{\"answer\":\"ok\"}","prompt_eval_count":12,"eval_count":7}`))
	}))
	defer server.Close()

	completer := NewCompleter(New(server.URL, "llama3", "embed"))
	resp, err := completer.CompleteStructured(context.Background(), ports.StructuredRequest{
		Name:   "cascade",
		Prompt: "prompt",
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("CompleteStructured() error = %v", err)
	}
	if format, ok := payload["format"].(map[string]any); !ok || format["type"] != "object" {
		t.Fatalf("expected schema format, got %v", payload["format"])
	}
	if resp.Content != `{"answer":"ok"}` || resp.Model != "llama3" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage == nil || *resp.Usage.TotalTokens != 19 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestCompleteStructuredRejectsNonObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"I cannot help with that"}`))
	}))
	defer server.Close()

	completer := NewCompleter(New(server.URL, "gen", "embed"))
	_, err := completer.CompleteStructured(context.Background(), ports.StructuredRequest{Name: "x", Prompt: "p"})
	if !errors.Is(err, domain.ErrNonTransient) {
		t.Fatalf("expected ErrNonTransient, got %v", err)
	}
}

func TestCompleteTextWithoutUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"  hello  "}`))
	}))
	defer server.Close()

	resp, err := NewCompleter(New(server.URL, "gen", "embed")).CompleteText(context.Background(), "hi")
	if err != nil {
		t.Fatalf("CompleteText() error = %v", err)
	}
	if resp.Content != "hello" || resp.Usage != nil || resp.Model != "gen" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed"))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be temporary, got %v", err)
	}
}

func TestEmbedRetriesThroughExecutor(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 2, RetryInitialBackoff: time.Millisecond})
	embedder := NewEmbedder(New(server.URL, "gen", "embed", WithExecutor(exec)))
	vector, err := embedder.EmbedQuery(context.Background(), "java")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 || calls.Load() != 2 {
		t.Fatalf("expected retry then success, calls=%d", calls.Load())
	}
}

func TestQueryParserNormalizesTerms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"intent\":\"team formation\",\"skills\":[\"Java\",\" java \"],\"technologies\":[\"Spring Boot\"],\"domains\":[],\"customers\":[\"Acme\"]}"}`))
	}))
	defer server.Close()

	parser := NewQueryParser(NewCompleter(New(server.URL, "gen", "embed")))
	parsed, _, err := parser.Parse(context.Background(), "Need a Java team for Acme")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Intent != domain.IntentTeamFormation || len(parsed.Skills) != 1 || parsed.Customers[0] != "Acme" {
		t.Fatalf("unexpected parsed query %+v", parsed)
	}
	if parsed.Text != "Need a Java team for Acme" {
		t.Fatalf("expected original text kept, got %q", parsed.Text)
	}
}

package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

func TestTracerPairsEndWithMostRecentStep(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0)}
	tracer := newTracerWithClock(clock.Now)

	tracer.StartStep("outer", "svc", "Outer")
	tracer.StartStep("inner", "svc", "Inner")
	tracer.EndStep("in-inner", "out-inner")
	tracer.EndStep("in-outer", "out-outer")

	trace := tracer.BuildTrace()
	if len(trace.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(trace.Steps))
	}
	if trace.Steps[0].Name != "outer" || trace.Steps[0].OutputSummary != "out-outer" {
		t.Fatalf("outer step mis-paired: %+v", trace.Steps[0])
	}
	if trace.Steps[1].Name != "inner" || trace.Steps[1].OutputSummary != "out-inner" {
		t.Fatalf("inner step mis-paired: %+v", trace.Steps[1])
	}
	if trace.Steps[0].DurationMs <= trace.Steps[1].DurationMs {
		t.Fatalf("outer step should outlast inner: outer=%d inner=%d", trace.Steps[0].DurationMs, trace.Steps[1].DurationMs)
	}
}

func TestTracerHandlesEndExplicitStep(t *testing.T) {
	tracer := NewTracer()
	first := tracer.StartStep("first", "svc", "A")
	second := tracer.StartStep("second", "svc", "B")

	first.Fail("in", "boom")
	second.End("in", "ok")

	trace := tracer.BuildTrace()
	if trace.Steps[0].Status != domain.StepFailed || trace.Steps[0].OutputSummary != "boom" {
		t.Fatalf("unexpected first step: %+v", trace.Steps[0])
	}
	if trace.Steps[1].Status != domain.StepSuccess {
		t.Fatalf("unexpected second step: %+v", trace.Steps[1])
	}
}

func TestTracerTokenUsageSumsOnlyReportedSteps(t *testing.T) {
	tracer := NewTracer()
	tracer.StartStep("llm-1", "llm", "Complete")
	tracer.EndStepWithLLM("p", "r", "model-a", domain.NewTokenUsage(10, 5))
	tracer.StartStep("search", "vector", "Search")
	tracer.EndStep("q", "3 hits")
	tracer.StartStep("llm-2", "llm", "Complete")
	tracer.EndStepWithLLM("p", "r", "model-a", domain.NewTokenUsage(1, 2))

	trace := tracer.BuildTrace()
	if trace.TotalTokenUsage == nil || *trace.TotalTokenUsage.TotalTokens != 18 {
		t.Fatalf("expected total 18 tokens, got %+v", trace.TotalTokenUsage)
	}
	if trace.Steps[1].TokenUsage != nil {
		t.Fatalf("non-llm step must not carry usage")
	}
}

func TestTracerNoUsageYieldsNilTotal(t *testing.T) {
	tracer := NewTracer()
	tracer.StartStep("search", "vector", "Search")
	tracer.EndStep("q", "0 hits")
	if usage := tracer.BuildTrace().TotalTokenUsage; usage != nil {
		t.Fatalf("expected nil usage, got %+v", usage)
	}
}

func TestTracerClosesOpenStepsAsFailed(t *testing.T) {
	tracer := NewTracer()
	tracer.StartStep("dangling", "svc", "Run")
	tracer.SkipStep("cascade", "patterns", "Resolve", "needs exactly one expert")

	trace := tracer.BuildTrace()
	if trace.Steps[0].Status != domain.StepFailed || trace.Steps[0].OutputSummary != stepNotEnded {
		t.Fatalf("expected dangling step failed, got %+v", trace.Steps[0])
	}
	if trace.Steps[1].Status != domain.StepSkipped || trace.Steps[1].DurationMs != 0 {
		t.Fatalf("unexpected skipped step: %+v", trace.Steps[1])
	}
}

func TestNilTracerIsNoop(t *testing.T) {
	var tracer *Tracer
	handle := tracer.StartStep("a", "b", "c")
	handle.End("x", "y")
	tracer.EndStep("x", "y")
	tracer.FailStep("x", "y")
	tracer.SkipStep("a", "b", "c", "d")
	if trace := tracer.BuildTrace(); len(trace.Steps) != 0 {
		t.Fatalf("expected empty trace, got %+v", trace)
	}
}

func TestTracerConcurrentHandles(t *testing.T) {
	tracer := NewTracer()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := tracer.StartStep("source", "retrieval", "Search")
			h.End("q", "done")
		}()
	}
	wg.Wait()
	trace := tracer.BuildTrace()
	if got := trace.StepsByStatus(domain.StepSuccess); got != 16 {
		t.Fatalf("expected 16 successful steps, got %d", got)
	}
}

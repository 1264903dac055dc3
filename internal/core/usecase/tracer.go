package usecase

import (
	"sync"
	"time"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

const stepNotEnded = "not ended"

// Tracer records pipeline steps for one request. A nil *Tracer is a valid no-op tracer.
type Tracer struct {
	mu      sync.Mutex
	now     func() time.Time
	started time.Time
	steps   []*tracedStep
	open    []*tracedStep
}

type tracedStep struct {
	step    domain.ExecutionStep
	started time.Time
	ended   bool
}

// StepHandle pairs an end/fail call with the step it started. Methods on a zero handle are no-ops.
type StepHandle struct {
	tracer *Tracer
	step   *tracedStep
}

func NewTracer() *Tracer {
	return newTracerWithClock(time.Now)
}

func newTracerWithClock(now func() time.Time) *Tracer {
	return &Tracer{
		now:     now,
		started: now(),
	}
}

func (t *Tracer) StartStep(name, service, method string) StepHandle {
	if t == nil {
		return StepHandle{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &tracedStep{
		step: domain.ExecutionStep{
			Name:    name,
			Service: service,
			Method:  method,
		},
		started: t.now(),
	}
	t.steps = append(t.steps, s)
	t.open = append(t.open, s)
	return StepHandle{tracer: t, step: s}
}

// EndStep closes the most recently started open step as SUCCESS.
func (t *Tracer) EndStep(input, output string) {
	t.finishLatest(domain.StepSuccess, input, output, "", nil)
}

func (t *Tracer) EndStepWithLLM(input, output, model string, usage *domain.TokenUsage) {
	t.finishLatest(domain.StepSuccess, input, output, model, usage)
}

func (t *Tracer) FailStep(input, errMessage string) {
	t.finishLatest(domain.StepFailed, input, errMessage, "", nil)
}

// SkipStep records a zero-duration SKIPPED step without touching the open stack.
func (t *Tracer) SkipStep(name, service, method, reason string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, &tracedStep{
		step: domain.ExecutionStep{
			Name:          name,
			Service:       service,
			Method:        method,
			Status:        domain.StepSkipped,
			OutputSummary: reason,
		},
		started: t.now(),
		ended:   true,
	})
}

func (h StepHandle) End(input, output string) {
	h.finish(domain.StepSuccess, input, output, "", nil)
}

func (h StepHandle) EndWithLLM(input, output, model string, usage *domain.TokenUsage) {
	h.finish(domain.StepSuccess, input, output, model, usage)
}

func (h StepHandle) Fail(input, errMessage string) {
	h.finish(domain.StepFailed, input, errMessage, "", nil)
}

func (h StepHandle) finish(status domain.StepStatus, input, output, model string, usage *domain.TokenUsage) {
	if h.tracer == nil || h.step == nil {
		return
	}
	h.tracer.mu.Lock()
	defer h.tracer.mu.Unlock()
	h.tracer.closeLocked(h.step, status, input, output, model, usage)
}

func (t *Tracer) finishLatest(status domain.StepStatus, input, output, model string, usage *domain.TokenUsage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.open) == 0 {
		return
	}
	t.closeLocked(t.open[len(t.open)-1], status, input, output, model, usage)
}

func (t *Tracer) closeLocked(s *tracedStep, status domain.StepStatus, input, output, model string, usage *domain.TokenUsage) {
	if s.ended {
		return
	}
	s.ended = true
	s.step.Status = status
	s.step.DurationMs = t.now().Sub(s.started).Milliseconds()
	s.step.InputSummary = input
	s.step.OutputSummary = output
	s.step.LLMModel = model
	if !usage.IsEmpty() {
		s.step.TokenUsage = usage.Add(nil)
	}
	for i := len(t.open) - 1; i >= 0; i-- {
		if t.open[i] == s {
			t.open = append(t.open[:i], t.open[i+1:]...)
			break
		}
	}
}

// BuildTrace snapshots the recorded steps. Steps still open are closed as FAILED.
func (t *Tracer) BuildTrace() *domain.ExecutionTrace {
	if t == nil {
		return &domain.ExecutionTrace{Steps: []domain.ExecutionStep{}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.open) > 0 {
		t.closeLocked(t.open[len(t.open)-1], domain.StepFailed, "", stepNotEnded, "", nil)
	}

	trace := &domain.ExecutionTrace{
		Steps:           make([]domain.ExecutionStep, 0, len(t.steps)),
		TotalDurationMs: t.now().Sub(t.started).Milliseconds(),
	}
	var total *domain.TokenUsage
	for _, s := range t.steps {
		trace.Steps = append(trace.Steps, s.step)
		total = total.Add(s.step.TokenUsage)
	}
	trace.TotalTokenUsage = total
	return trace
}

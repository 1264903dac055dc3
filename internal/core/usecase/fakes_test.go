package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

type embedderFake struct {
	vector  []float32
	vectors [][]float32
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *embedderFake) Embed(context.Context, []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.vector == nil {
		return []float32{0.1, 0.2}, nil
	}
	return f.vector, nil
}

type vectorSearchFake struct {
	hits  []domain.SourceHit
	err   error
	block bool
	calls int
	mu    sync.Mutex
}

func (f *vectorSearchFake) SearchExperts(ctx context.Context, _ []float32, _ int, _ float64) ([]domain.SourceHit, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type graphSearchFake struct {
	byTechnology   map[string][]string
	byTechnologies []string
	byDomain       map[string][]string
	byCustomer     map[string][]string
	err            error
	block          bool
	calls          int
	mu             sync.Mutex
}

func (f *graphSearchFake) record(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *graphSearchFake) ByTechnology(ctx context.Context, technology string, _ int) ([]string, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return f.byTechnology[technology], nil
}

func (f *graphSearchFake) ByTechnologies(ctx context.Context, _ []string, _ int) ([]string, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return f.byTechnologies, nil
}

func (f *graphSearchFake) ByDomain(ctx context.Context, name string, _ int) ([]string, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return f.byDomain[name], nil
}

func (f *graphSearchFake) ByCustomer(ctx context.Context, customer string, _ int) ([]string, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return f.byCustomer[customer], nil
}

type keywordSearchFake struct {
	byKeywords     []string
	byTechnologies []string
	err            error
	calls          int
	mu             sync.Mutex
}

func (f *keywordSearchFake) ByKeywords(context.Context, []string, int) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byKeywords, nil
}

func (f *keywordSearchFake) ByTechnologies(context.Context, []string, int) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byTechnologies, nil
}

// completerFake answers structured requests by schema name and text prompts from a queue.
type completerFake struct {
	mu         sync.Mutex
	structured map[string][]string
	text       []string
	structErr  map[string]error
	textErr    error
	requests   []string
	prompts    []string
}

func newCompleterFake() *completerFake {
	return &completerFake{structured: map[string][]string{}, structErr: map[string]error{}}
}

func (f *completerFake) onStructured(name string, responses ...string) *completerFake {
	f.structured[name] = append(f.structured[name], responses...)
	return f
}

func (f *completerFake) onText(responses ...string) *completerFake {
	f.text = append(f.text, responses...)
	return f
}

func (f *completerFake) CompleteStructured(_ context.Context, req ports.StructuredRequest) (ports.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.Name)
	if err := f.structErr[req.Name]; err != nil {
		return ports.LLMResponse{}, err
	}
	queue := f.structured[req.Name]
	if len(queue) == 0 {
		return ports.LLMResponse{}, fmt.Errorf("unexpected structured request %s", req.Name)
	}
	content := queue[0]
	if len(queue) > 1 {
		f.structured[req.Name] = queue[1:]
	}
	return ports.LLMResponse{Content: content, Model: "fake-model", Usage: domain.NewTokenUsage(10, 5)}, nil
}

func (f *completerFake) CompleteText(_ context.Context, prompt string) (ports.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.textErr != nil {
		return ports.LLMResponse{}, f.textErr
	}
	if len(f.text) == 0 {
		return ports.LLMResponse{}, errors.New("unexpected text request")
	}
	content := f.text[0]
	if len(f.text) > 1 {
		f.text = f.text[1:]
	}
	return ports.LLMResponse{Content: content, Model: "fake-model", Usage: domain.NewTokenUsage(20, 10)}, nil
}

func (f *completerFake) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req == name {
			n++
		}
	}
	return n
}

func (f *completerFake) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) + len(f.prompts)
}

type enricherFake struct {
	experts map[string]domain.ExpertContext
	err     error
	calls   [][]string
}

func (f *enricherFake) LoadExpertDetails(_ context.Context, ids []string) ([]domain.ExpertContext, error) {
	f.calls = append(f.calls, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ExpertContext, 0, len(ids))
	for _, id := range ids {
		if expert, ok := f.experts[id]; ok {
			out = append(out, expert)
		}
	}
	return out, nil
}

type parserFake struct {
	parsed domain.ParsedQuery
	err    error
	calls  int
}

func (f *parserFake) Parse(context.Context, string) (domain.ParsedQuery, ports.LLMResponse, error) {
	f.calls++
	if f.err != nil {
		return domain.ParsedQuery{}, ports.LLMResponse{}, f.err
	}
	return f.parsed, ports.LLMResponse{Model: "fake-model", Usage: domain.NewTokenUsage(3, 2)}, nil
}

type chatStoreFake struct {
	messages  []domain.ConversationMessage
	appended  []domain.ConversationMessage
	listErr   error
	appendErr error
}

func (f *chatStoreFake) ListMessages(_ context.Context, chatID string, limit int) ([]domain.ConversationMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ConversationMessage, 0, len(f.messages))
	for _, msg := range f.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AppendMessage assigns the next sequence number when none is set, like the postgres store.
func (f *chatStoreFake) AppendMessage(_ context.Context, msg domain.ConversationMessage) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	if msg.SequenceNumber == 0 {
		for _, existing := range f.messages {
			if existing.ChatID == msg.ChatID && existing.SequenceNumber >= msg.SequenceNumber {
				msg.SequenceNumber = existing.SequenceNumber + 1
			}
		}
		if msg.SequenceNumber == 0 {
			msg.SequenceNumber = 1
		}
	}
	f.appended = append(f.appended, msg)
	f.messages = append(f.messages, msg)
	return nil
}

type expertRepoFake struct {
	profiles    map[string]*domain.ExpertProfile
	created     []*domain.ExpertProfile
	updated     []*domain.ExpertProfile
	statusCalls []domain.ExpertStatus
	createErr   error
	getErr      error
	statusErr   error
}

func newExpertRepoFake(profiles ...domain.ExpertProfile) *expertRepoFake {
	repo := &expertRepoFake{profiles: map[string]*domain.ExpertProfile{}}
	for i := range profiles {
		p := profiles[i]
		repo.profiles[p.ID] = &p
	}
	return repo
}

func (f *expertRepoFake) Create(_ context.Context, profile *domain.ExpertProfile) error {
	if f.createErr != nil {
		return f.createErr
	}
	copyProfile := *profile
	f.created = append(f.created, &copyProfile)
	f.profiles[profile.ID] = &copyProfile
	return nil
}

func (f *expertRepoFake) GetByID(_ context.Context, id string) (*domain.ExpertProfile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	profile, ok := f.profiles[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrExpertNotFound, "get expert", errors.New(id))
	}
	copyProfile := *profile
	return &copyProfile, nil
}

func (f *expertRepoFake) Update(_ context.Context, profile *domain.ExpertProfile) error {
	copyProfile := *profile
	f.updated = append(f.updated, &copyProfile)
	f.profiles[profile.ID] = &copyProfile
	return nil
}

func (f *expertRepoFake) UpdateStatus(_ context.Context, _ string, status domain.ExpertStatus, _ string) error {
	f.statusCalls = append(f.statusCalls, status)
	if status == domain.ExpertStatusFailed {
		return nil
	}
	return f.statusErr
}

type storageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishExpertIngested(_ context.Context, expertID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, expertID)
	return nil
}

func (f *queueFake) SubscribeExpertIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

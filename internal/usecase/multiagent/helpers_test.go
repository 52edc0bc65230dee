package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"conclave/internal/adapter/storage"
	"conclave/internal/adapter/tool"
	"conclave/internal/domain"
	"conclave/internal/usecase/docstore"
)

const orchestratorMarker = "orch"

// scriptLLM answers each agent from its own queue. The agent is recognised
// by the system prompt: "ORCH" for the orchestrator, "RESEARCH <name>" for a
// specialist.
type scriptLLM struct {
	mu       sync.Mutex
	scripts  map[string][]domain.ChatResponse
	errs     map[string]error
	delays   map[string]time.Duration
	requests map[string][]domain.ChatRequest
}

func newScriptLLM() *scriptLLM {
	return &scriptLLM{
		scripts:  make(map[string][]domain.ChatResponse),
		errs:     make(map[string]error),
		delays:   make(map[string]time.Duration),
		requests: make(map[string][]domain.ChatRequest),
	}
}

func agentOf(req domain.ChatRequest) string {
	if name, ok := strings.CutPrefix(req.System, "RESEARCH "); ok {
		return name
	}
	return orchestratorMarker
}

func (l *scriptLLM) script(agent string, responses ...domain.ChatResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[agent] = append(l.scripts[agent], responses...)
}

func (l *scriptLLM) fail(agent string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[agent] = err
}

// slow makes every model call of agent take d.
func (l *scriptLLM) slow(agent string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delays[agent] = d
}

func (l *scriptLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	agent := agentOf(req)
	l.mu.Lock()
	delay := l.delays[agent]
	l.mu.Unlock()
	time.Sleep(delay)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests[agent] = append(l.requests[agent], req)
	if err := l.errs[agent]; err != nil {
		return nil, err
	}
	queue := l.scripts[agent]
	if len(queue) == 0 {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "done"}}, nil
	}
	l.scripts[agent] = queue[1:]
	resp := queue[0]
	return &resp, nil
}

func (l *scriptLLM) Name() string { return "script" }

func (l *scriptLLM) Requests(agent string) []domain.ChatRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ChatRequest(nil), l.requests[agent]...)
}

func say(text string) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}
}

func callTool(name string, args any) domain.ChatResponse {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return domain.ChatResponse{Message: domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{Name: name, Arguments: raw}},
	}}
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingState rejects saves for identities with a given prefix.
type failingState struct {
	domain.StateStore
	mu     sync.Mutex
	prefix string
}

func (s *failingState) setFailing(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefix = prefix
}

func (s *failingState) Save(ctx context.Context, identity string, data []byte) error {
	s.mu.Lock()
	prefix := s.prefix
	s.mu.Unlock()
	if prefix != "" && strings.HasPrefix(identity, prefix) {
		return errors.New("state store unreachable")
	}
	return s.StateStore.Save(ctx, identity, data)
}

type testEnv struct {
	host   *Host
	llm    *scriptLLM
	bucket *storage.MemoryBucket
	state  *failingState
	clock  *clock
}

func newTestEnv(t *testing.T, opts ...func(*HostConfig)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orchTools, err := tool.NewOrchestratorRegistry(logger)
	require.NoError(t, err)
	specTools, err := tool.NewSpecialistRegistry(logger, nil)
	require.NoError(t, err)

	env := &testEnv{
		llm:    newScriptLLM(),
		bucket: storage.NewMemoryBucket(),
		state:  &failingState{StateStore: storage.NewMemoryStateStore()},
		clock:  newClock(),
	}
	cfg := HostConfig{
		State:              env.state,
		Bucket:             env.bucket,
		LLM:                env.llm,
		OrchestratorTools:  orchTools,
		SpecialistTools:    specTools,
		Logger:             logger,
		Documents:          docstore.Options{BaseDelay: time.Millisecond},
		OrchestratorPrompt: "ORCH",
		SpecialistPrompt:   "RESEARCH {name}",
		Now:                env.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.host = NewHost(cfg)
	t.Cleanup(env.host.Wait)
	return env
}

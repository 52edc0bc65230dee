package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"conclave/internal/domain"
)

// --- Mocks ---

// scriptedLLM returns its responses in order and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	errs      []error // errs[i] is returned instead of responses[i] when non-nil
	requests  []domain.ChatRequest
	callIdx   int
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := m.callIdx
	m.callIdx++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	return new(m.responses[idx]), nil
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

// mockStreamingLLM implements domain.StreamingLLMProvider with canned deltas.
type mockStreamingLLM struct {
	scriptedLLM
	streams [][]domain.StreamDelta // one slice of deltas per ChatStream call
	idx     int
}

func (m *mockStreamingLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	var deltas []domain.StreamDelta
	if m.idx < len(m.streams) {
		deltas = m.streams[m.idx]
	} else {
		deltas = []domain.StreamDelta{{Content: "fallback", Done: true}}
	}
	m.idx++

	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

type mockToolExecutor struct {
	tools map[string]domain.Tool
}

func newToolExecutor(tools ...domain.Tool) *mockToolExecutor {
	m := &mockToolExecutor{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		m.tools[t.Name()] = t
	}
	return m
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t.Schema())
	}
	return out
}

// recordTool records its invocations and returns a fixed result.
type recordTool struct {
	name    string
	result  string
	isError bool
	err     error
	confirm bool

	mu    sync.Mutex
	calls []json.RawMessage
	ctxs  []context.Context
}

func (t *recordTool) Name() string        { return t.name }
func (t *recordTool) Description() string { return "test tool " + t.name }
func (t *recordTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *recordTool) RequiresConfirmation() bool { return t.confirm }

func (t *recordTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.ctxs = append(t.ctxs, ctx)
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return &domain.ToolResult{Content: t.result, IsError: t.isError}, nil
}

func (t *recordTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) Types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

// Payload returns the payload of the last event of type t.
func (b *recordingBus) Payload(t domain.EventType) json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Type == t {
			return b.events[i].Payload
		}
	}
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toolCallMsg(calls ...domain.ToolCall) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}}
}

func textMsg(text string) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}
}

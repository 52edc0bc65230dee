package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "anthropic").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	// A delta carrying Err terminates the stream.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// DeltaSink receives streamed chunks in arrival order.
type DeltaSink func(StreamDelta)

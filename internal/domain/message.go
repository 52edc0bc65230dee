package domain

import (
	"encoding/json"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolState tracks the lifecycle of a tool-invocation part.
type ToolState string

const (
	ToolStateInputStreaming  ToolState = "input-streaming"
	ToolStateInputAvailable  ToolState = "input-available"
	ToolStateOutputAvailable ToolState = "output-available"
	ToolStateOutputError     ToolState = "output-error"
)

// Human approval sentinels written into the output of a tool part that
// requires confirmation.
const (
	ApprovalYes = "Yes, confirmed."
	ApprovalNo  = "No, denied."

	// DeniedToolOutput is recorded when a human denies a gated tool call.
	DeniedToolOutput = "Error: User denied access to tool execution"
)

// ToolCall is a tool-invocation part inside an assistant turn. The request
// (name + arguments) and its eventual result live in the same record.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	State     ToolState       `json:"state,omitempty"`
	Output    string          `json:"output,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Pending reports whether the part still awaits input or a result.
func (c ToolCall) Pending() bool {
	switch c.State {
	case ToolStateInputStreaming:
		return true
	case ToolStateInputAvailable:
		return c.Output == ""
	default:
		return false
	}
}

// Message represents a single turn in a conversation.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// HasPendingToolCall reports whether any tool part of the message is unresolved.
func (m Message) HasPendingToolCall() bool {
	for _, tc := range m.ToolCalls {
		if tc.Pending() {
			return true
		}
	}
	return false
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived   EventType = "message.received"
	EventMessageSent       EventType = "message.sent"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventToolApprovalReq   EventType = "tool.approval.request"
	EventToolApprovalResp  EventType = "tool.approval.response"
	EventLLMCallStarted    EventType = "llm.call.started"
	EventLLMCallCompleted  EventType = "llm.call.completed"
	EventStreamDelta       EventType = "stream.delta"
	EventStreamStarted     EventType = "stream.started"
	EventStreamCompleted   EventType = "stream.completed"
	EventStreamError       EventType = "stream.error"
	EventAgentError        EventType = "agent.error"

	// Multi-agent events.
	EventAgentCreated    EventType = "agent.created"
	EventAgentDelegated  EventType = "agent.delegated"
	EventAgentRelayed    EventType = "agent.relayed"
	EventDocumentWritten EventType = "document.written"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// StreamDeltaPayload accompanies EventStreamDelta.
type StreamDeltaPayload struct {
	Content   string `json:"content,omitempty"`
	Iteration int    `json:"iteration"`
}

// StreamCompletedPayload accompanies EventStreamCompleted with the final
// text and the tokens spent on the whole turn.
type StreamCompletedPayload struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// StreamErrorPayload accompanies EventStreamError.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

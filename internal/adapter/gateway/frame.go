package gateway

import (
	"encoding/json"

	"conclave/internal/domain"
)

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged between client and server over WebSocket.
type Frame struct {
	Type    FrameType        `json:"type"`
	ID      uint64           `json:"id,omitempty"`      // request/response correlation ID
	Method  string           `json:"method,omitempty"`  // RPC method name (request only)
	Event   string           `json:"event,omitempty"`   // event name (event only)
	Payload json.RawMessage  `json:"payload,omitempty"` // request params, response result or event body
	Error   string           `json:"error,omitempty"`   // error description (response only)
	Code    domain.ErrorCode `json:"code,omitempty"`    // machine-parseable error code (response only)
}

// Event names pushed to a client outside of bus forwarding.
const (
	EventStreamDelta = string(domain.EventStreamDelta)
	EventStreamDone  = "stream.done"
)

// StreamFrame is the payload of a stream.delta event sent to the client that
// issued chat.send.
type StreamFrame struct {
	StreamID  string `json:"stream_id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done,omitempty"`
}

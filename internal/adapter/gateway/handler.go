package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"conclave/internal/domain"
	"conclave/internal/usecase/multiagent"
)

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Host   *multiagent.Host
	Logger *slog.Logger
}

// RPC method names.
const (
	MethodChatSend      = "chat.send"
	MethodChatAbort     = "chat.abort"
	MethodChatHistory   = "chat.history"
	MethodChatConfirm   = "chat.confirm"
	MethodAgentsList    = "agents.list"
	MethodAgentsHistory = "agents.history"
)

// RegisterDefaultHandlers installs the chat and agent RPC methods.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	active := newActiveRequests()

	s.RegisterHandler(MethodChatSend, chatSendHandler(deps, active))
	s.RegisterHandler(MethodChatAbort, chatAbortHandler(active))
	s.RegisterHandler(MethodChatHistory, chatHistoryHandler(deps))
	s.RegisterHandler(MethodChatConfirm, chatConfirmHandler(deps))
	s.RegisterHandler(MethodAgentsList, agentsListHandler(deps))
	s.RegisterHandler(MethodAgentsHistory, agentsHistoryHandler(deps))
}

// activeRequests tracks the running chat.send calls of every connection so
// chat.abort can stop them. Entries are keyed by connection and stream, so
// concurrent sends on one session never overwrite each other.
type activeRequests struct {
	mu    sync.Mutex
	chats map[activeKey]activeChat
}

type activeKey struct {
	peer   uint64
	stream string
}

type activeChat struct {
	session string
	cancel  context.CancelFunc
}

func newActiveRequests() *activeRequests {
	return &activeRequests{chats: make(map[activeKey]activeChat)}
}

func (a *activeRequests) start(peer uint64, stream, session string, cancel context.CancelFunc) func() {
	key := activeKey{peer: peer, stream: stream}
	a.mu.Lock()
	a.chats[key] = activeChat{session: session, cancel: cancel}
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.chats, key)
		a.mu.Unlock()
	}
}

// abort cancels the connection's chats on session, or only stream when it
// is set, and reports how many were cancelled.
func (a *activeRequests) abort(peer uint64, session, stream string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for key, chat := range a.chats {
		if key.peer != peer || chat.session != session {
			continue
		}
		if stream != "" && key.stream != stream {
			continue
		}
		chat.cancel()
		n++
	}
	return n
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return domain.ErrRPCInvalidPayload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrRPCInvalidPayload, name)
	}
	return nil
}

// --- chat ---

type chatSendRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type pendingCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatSendResponse struct {
	SessionID  string        `json:"session_id"`
	StreamID   string        `json:"stream_id"`
	Reply      string        `json:"reply"`
	Pending    []pendingCall `json:"pending,omitempty"`
	Iterations int           `json:"iterations"`
}

func chatSendHandler(deps HandlerDeps, active *activeRequests) RPCHandler {
	return func(ctx context.Context, peer *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req chatSendRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			return nil, err
		}
		if err := requireField("content", req.Content); err != nil {
			return nil, err
		}

		peer.Watch(req.SessionID)
		streamID := uuid.NewString()

		reqCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		defer active.start(peer.id, streamID, req.SessionID, cancel)()

		sink := func(d domain.StreamDelta) {
			if d.Content == "" {
				return
			}
			peer.Notify(EventStreamDelta, StreamFrame{StreamID: streamID, SessionID: req.SessionID, Content: d.Content})
		}

		res, err := deps.Host.Orchestrator(req.SessionID).Chat(reqCtx, req.Content, sink)
		if err != nil {
			return nil, err
		}
		peer.Notify(EventStreamDone, StreamFrame{StreamID: streamID, SessionID: req.SessionID, Done: true})

		out := chatSendResponse{
			SessionID:  req.SessionID,
			StreamID:   streamID,
			Reply:      res.Text,
			Iterations: res.Iterations,
		}
		for _, c := range res.AwaitingConfirmation {
			out.Pending = append(out.Pending, pendingCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
		return json.Marshal(out)
	}
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type abortRequest struct {
	SessionID string `json:"session_id"`
	StreamID  string `json:"stream_id,omitempty"`
}

type abortResponse struct {
	Aborted bool `json:"aborted"`
	Count   int  `json:"count,omitempty"`
}

// chatAbortHandler cancels chat.send calls made on the same connection.
func chatAbortHandler(active *activeRequests) RPCHandler {
	return func(_ context.Context, peer *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req abortRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			return nil, err
		}
		n := active.abort(peer.id, req.SessionID, req.StreamID)
		return json.Marshal(abortResponse{Aborted: n > 0, Count: n})
	}
}

func chatHistoryHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, peer *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			return nil, err
		}
		peer.Watch(req.SessionID)
		msgs, err := deps.Host.Orchestrator(req.SessionID).History(ctx)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return json.Marshal(msgs)
	}
}

type chatConfirmRequest struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Approved   bool   `json:"approved"`
}

type confirmResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Approved   bool   `json:"approved"`
}

// chatConfirmHandler records a human decision on a gated tool call. The
// decision takes effect at the start of the session's next chat turn.
func chatConfirmHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req chatConfirmRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			return nil, err
		}
		if err := requireField("tool_call_id", req.ToolCallID); err != nil {
			return nil, err
		}
		if err := deps.Host.Orchestrator(req.SessionID).ResolveConfirmation(ctx, req.ToolCallID, req.Approved); err != nil {
			return nil, err
		}
		deps.Logger.Info("tool call confirmation recorded",
			"session", req.SessionID, "tool_call_id", req.ToolCallID, "approved", req.Approved)
		return json.Marshal(confirmResponse{ToolCallID: req.ToolCallID, Approved: req.Approved})
	}
}

// --- agents ---

func agentsListHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			return nil, err
		}
		entries, err := deps.Host.Orchestrator(req.SessionID).ListSpecialists(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)
	}
}

type agentRequest struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
}

// agentsHistoryHandler returns the conversation of a specialist registered
// in the caller's session.
func agentsHistoryHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req agentRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			return nil, err
		}
		if err := requireField("agent_id", req.AgentID); err != nil {
			return nil, err
		}
		msgs, err := deps.Host.Orchestrator(req.SessionID).SpecialistHistory(ctx, req.AgentID)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return json.Marshal(msgs)
	}
}

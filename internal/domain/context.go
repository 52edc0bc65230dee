package domain

import "context"

type ctxKey string

const (
	sessionCtxKey ctxKey = "session_id"
	agentCtxKey   ctxKey = "executing_agent"
)

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}

// ExecutingAgent is the agent on whose behalf a tool handler runs.
// Handlers assert the narrower capability they need.
type ExecutingAgent interface {
	AgentID() string
}

// ContextWithAgent binds the executing agent to ctx for the duration of a
// model turn. Concurrent turns of different agents never share a binding.
func ContextWithAgent(ctx context.Context, agent ExecutingAgent) context.Context {
	return context.WithValue(ctx, agentCtxKey, agent)
}

// AgentFromContext returns the agent bound by ContextWithAgent.
func AgentFromContext(ctx context.Context) (ExecutingAgent, bool) {
	a, ok := ctx.Value(agentCtxKey).(ExecutingAgent)
	return a, ok && a != nil
}

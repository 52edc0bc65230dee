// Package tool implements the agent tool sets and the execution boundary
// every tool call passes through.
package tool

import (
	"context"
	"fmt"

	"conclave/internal/domain"
	"conclave/internal/usecase"
)

// DocumentOwner is an executing agent with a private document store.
type DocumentOwner interface {
	domain.ExecutingAgent
	Documents() domain.DocumentStore
}

// RelaySource is an executing agent that can report to its orchestrator.
type RelaySource interface {
	domain.ExecutingAgent
	Relay(ctx context.Context, text string) error
}

// SpecialistDirectory is an executing agent that creates and addresses
// specialists.
type SpecialistDirectory interface {
	domain.ExecutingAgent
	CreateSpecialist(ctx context.Context, name, description, message string) (domain.RegistryEntry, string, error)
	ListSpecialists(ctx context.Context) ([]domain.RegistryEntry, error)
	MessageSpecialist(ctx context.Context, agentID, message string) (string, error)
}

// executingAs returns the agent bound to ctx as capability T.
func executingAs[T domain.ExecutingAgent](ctx context.Context, capability string) (T, error) {
	var zero T
	a, ok := domain.AgentFromContext(ctx)
	if !ok {
		return zero, domain.ErrNoExecutingAgent
	}
	t, ok := a.(T)
	if !ok {
		return zero, fmt.Errorf("agent %q cannot %s: %w", a.AgentID(), capability, domain.ErrNoExecutingAgent)
	}
	return t, nil
}

// PublishToolEvent publishes a domain event from a tool. The session ID is
// taken from ctx; a nil bus is a no-op.
func PublishToolEvent(ctx context.Context, bus domain.EventBus, eventType domain.EventType, payload any) {
	usecase.PublishEvent(ctx, bus, eventType, domain.SessionIDFromContext(ctx), payload)
}

package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubAgent string

func (s stubAgent) AgentID() string { return string(s) }

func TestAgentContext(t *testing.T) {
	_, ok := AgentFromContext(context.Background())
	assert.False(t, ok)

	outer := ContextWithAgent(context.Background(), stubAgent("dmd"))
	inner := ContextWithAgent(outer, stubAgent("cf"))

	a, ok := AgentFromContext(outer)
	assert.True(t, ok)
	assert.Equal(t, "dmd", a.AgentID())

	a, ok = AgentFromContext(inner)
	assert.True(t, ok)
	assert.Equal(t, "cf", a.AgentID())
}

func TestSessionIDContext(t *testing.T) {
	assert.Empty(t, SessionIDFromContext(context.Background()))
	ctx := ContextWithSessionID(context.Background(), "default")
	assert.Equal(t, "default", SessionIDFromContext(ctx))
}

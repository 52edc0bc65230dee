package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
)

func pendingTurn(calls ...domain.ToolCall) domain.Message {
	for i := range calls {
		calls[i].State = domain.ToolStateInputAvailable
	}
	return domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}
}

func TestConfirmationPolicy(t *testing.T) {
	gated := &recordTool{name: "gated", confirm: true}
	plain := &recordTool{name: "plain"}
	p := NewConfirmationPolicy([]string{"by_name"}, newToolExecutor(gated, plain))

	assert.True(t, p.RequiresConfirmation(domain.ToolCall{Name: "by_name"}))
	assert.True(t, p.RequiresConfirmation(domain.ToolCall{Name: "gated"}))
	assert.False(t, p.RequiresConfirmation(domain.ToolCall{Name: "plain"}))
	assert.False(t, p.RequiresConfirmation(domain.ToolCall{Name: "unknown"}))

	var nilPolicy *ConfirmationPolicy
	assert.False(t, nilPolicy.RequiresConfirmation(domain.ToolCall{Name: "by_name"}))
}

func TestReconcileConfirmations_ApproveExecutes(t *testing.T) {
	gated := &recordTool{name: "gated", result: "executed", confirm: true}
	tools := newToolExecutor(gated)
	conv := NewConversation("c")
	conv.Append(pendingTurn(domain.ToolCall{ID: "g", Name: "gated"}))

	require.NoError(t, ApproveToolCall(conv, "g", true))
	n := ReconcileConfirmations(context.Background(), conv, tools, NewConfirmationPolicy(nil, tools), newTestLogger())
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, gated.Calls())

	call, _ := conv.FindToolCall("g")
	assert.Equal(t, domain.ToolStateOutputAvailable, call.State)
	assert.Equal(t, "executed", call.Output)
}

func TestReconcileConfirmations_DenyRecordsError(t *testing.T) {
	gated := &recordTool{name: "gated", confirm: true}
	tools := newToolExecutor(gated)
	conv := NewConversation("c")
	conv.Append(pendingTurn(domain.ToolCall{ID: "g", Name: "gated"}))

	require.NoError(t, ApproveToolCall(conv, "g", false))
	n := ReconcileConfirmations(context.Background(), conv, tools, NewConfirmationPolicy(nil, tools), newTestLogger())
	assert.Equal(t, 1, n)
	assert.Zero(t, gated.Calls())

	call, _ := conv.FindToolCall("g")
	assert.Equal(t, domain.ToolStateOutputError, call.State)
	assert.Equal(t, domain.DeniedToolOutput, call.Output)
	assert.True(t, call.IsError)
}

func TestReconcileConfirmations_LeavesOthersAlone(t *testing.T) {
	gated := &recordTool{name: "gated", confirm: true}
	inline := &recordTool{name: "inline"}
	tools := newToolExecutor(gated, inline)
	conv := NewConversation("c")
	// An inline tool whose output happens to equal the sentinel must not rerun.
	conv.Append(pendingTurn(
		domain.ToolCall{ID: "i", Name: "inline", Output: domain.ApprovalYes},
		domain.ToolCall{ID: "g", Name: "gated"},
	))
	before := conv.Messages()

	n := ReconcileConfirmations(context.Background(), conv, tools, NewConfirmationPolicy(nil, tools), newTestLogger())
	assert.Zero(t, n)
	assert.Zero(t, inline.Calls())
	assert.Equal(t, before, conv.Messages())

	assert.Zero(t, ReconcileConfirmations(context.Background(), conv, tools, nil, newTestLogger()))
}

func TestApproveToolCall_Errors(t *testing.T) {
	conv := NewConversation("c")
	conv.Append(domain.Message{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
		{ID: "done", Name: "t", State: domain.ToolStateOutputAvailable, Output: "x"},
	}})

	assert.ErrorIs(t, ApproveToolCall(conv, "missing", true), domain.ErrNotFound)
	assert.ErrorIs(t, ApproveToolCall(conv, "done", true), domain.ErrToolCallNotPending)
}

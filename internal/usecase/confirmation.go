package usecase

import (
	"context"
	"log/slog"

	"conclave/internal/domain"
)

// ConfirmationPolicy names tools whose calls must be approved by a human
// before they run. Tools can also opt in by implementing
// domain.ConfirmableTool.
type ConfirmationPolicy struct {
	required map[string]bool
	tools    domain.ToolExecutor
}

var _ domain.ConfirmationGate = (*ConfirmationPolicy)(nil)

// NewConfirmationPolicy creates a policy from a list of tool names. tools
// may be nil when only the name list should be consulted.
func NewConfirmationPolicy(names []string, tools domain.ToolExecutor) *ConfirmationPolicy {
	p := &ConfirmationPolicy{required: make(map[string]bool, len(names)), tools: tools}
	for _, n := range names {
		p.required[n] = true
	}
	return p
}

// RequiresConfirmation reports whether call must wait for a human decision.
func (p *ConfirmationPolicy) RequiresConfirmation(call domain.ToolCall) bool {
	if p == nil {
		return false
	}
	if p.required[call.Name] {
		return true
	}
	if p.tools == nil {
		return false
	}
	t, err := p.tools.Get(call.Name)
	if err != nil {
		return false
	}
	ct, ok := t.(domain.ConfirmableTool)
	return ok && ct.RequiresConfirmation()
}

// ReconcileConfirmations resolves tool parts that carry a human decision:
// ApprovalYes runs the tool now and records its result in place, ApprovalNo
// records the denial. Parts of tools that run inline are never touched.
// It returns the number of parts resolved.
//
// ctx must already carry the executing agent.
func ReconcileConfirmations(ctx context.Context, conv *Conversation, tools domain.ToolExecutor, gate domain.ConfirmationGate, logger *slog.Logger) int {
	if gate == nil {
		return 0
	}
	resolved := 0
	for _, msg := range conv.Messages() {
		for _, call := range msg.ToolCalls {
			if call.State != domain.ToolStateInputAvailable || !gate.RequiresConfirmation(call) {
				continue
			}
			switch call.Output {
			case domain.ApprovalYes:
				result := executeCall(ctx, tools, call, logger)
				conv.UpdateToolCall(call.ID, func(tc *domain.ToolCall) { *tc = result })
				logger.Info("confirmed tool executed", "tool", call.Name, "call_id", call.ID, "is_error", result.IsError)
			case domain.ApprovalNo:
				conv.UpdateToolCall(call.ID, func(tc *domain.ToolCall) {
					tc.State = domain.ToolStateOutputError
					tc.Output = domain.DeniedToolOutput
					tc.IsError = true
				})
				logger.Info("tool call denied", "tool", call.Name, "call_id", call.ID)
			default:
				continue
			}
			resolved++
		}
	}
	return resolved
}

// ApproveToolCall writes a human decision into a pending tool part so the
// next turn can reconcile it.
func ApproveToolCall(conv *Conversation, callID string, approved bool) error {
	call, ok := conv.FindToolCall(callID)
	if !ok {
		return domain.NewDomainError("ApproveToolCall", domain.ErrNotFound, callID)
	}
	if !call.Pending() {
		return domain.NewDomainError("ApproveToolCall", domain.ErrToolCallNotPending, callID)
	}
	decision := domain.ApprovalNo
	if approved {
		decision = domain.ApprovalYes
	}
	conv.UpdateToolCall(callID, func(tc *domain.ToolCall) {
		tc.State = domain.ToolStateInputAvailable
		tc.Output = decision
	})
	return nil
}

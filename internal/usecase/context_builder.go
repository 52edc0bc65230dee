package usecase

import (
	"strings"

	"conclave/internal/domain"
)

// ContextBuilder assembles model requests from a conversation.
type ContextBuilder struct {
	systemPrompt string
	model        string
	maxTokens    int
	temperature  float64
}

// NewContextBuilder creates a builder. systemPrompt is used only when the
// history carries no system turn of its own.
func NewContextBuilder(systemPrompt, model string, maxTokens int, temperature float64) *ContextBuilder {
	return &ContextBuilder{
		systemPrompt: systemPrompt,
		model:        model,
		maxTokens:    maxTokens,
		temperature:  temperature,
	}
}

// Build returns a request with system turns folded into ChatRequest.System
// and every pending tool part filtered out of the history.
func (cb *ContextBuilder) Build(history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	var system []string
	msgs := make([]domain.Message, 0, len(history))
	for _, msg := range CleanupMessages(history) {
		if msg.Role == domain.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(system) == 0 && cb.systemPrompt != "" {
		system = append(system, cb.systemPrompt)
	}

	return domain.ChatRequest{
		Model:       cb.model,
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		Tools:       tools,
		MaxTokens:   cb.maxTokens,
		Temperature: cb.temperature,
	}
}

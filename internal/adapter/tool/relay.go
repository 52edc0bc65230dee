package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
)

// RelayTool lets a specialist report to the interaction agent. Delivery is
// fire-and-forget: the report shows up in the orchestrator's history before
// the human's next turn.
type RelayTool struct {
	logger *slog.Logger
}

// NewRelayTool creates the message_to_interaction_agent tool.
func NewRelayTool(logger *slog.Logger) *RelayTool {
	return &RelayTool{logger: logger}
}

func (t *RelayTool) Name() string { return "message_to_interaction_agent" }
func (t *RelayTool) Description() string {
	return "Send a report to the interaction agent that talks to the human. Does not wait for an answer."
}

func (t *RelayTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "minLength": 1, "description": "The report to deliver"}
			},
			"required": ["message"],
			"additionalProperties": false
		}`),
	}
}

type relayParams struct {
	Message string `json:"message"`
}

func (t *RelayTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.message_to_interaction_agent", t.logger, params,
		func(ctx context.Context, _ trace.Span, p relayParams) (any, error) {
			if err := RequireField("message", p.Message); err != nil {
				return ErrResult("%s", err)
			}
			src, err := executingAs[RelaySource](ctx, "report to the interaction agent")
			if err != nil {
				return nil, err
			}
			if err := src.Relay(ctx, p.Message); err != nil {
				return nil, err
			}
			return "Message sent to the interaction agent.", nil
		},
	)
}

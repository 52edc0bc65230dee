package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
	"conclave/internal/infra/tracer"
)

// CreateAgentTool creates a specialist for a new domain.
type CreateAgentTool struct {
	logger *slog.Logger
}

// NewCreateAgentTool creates the create_agent tool.
func NewCreateAgentTool(logger *slog.Logger) *CreateAgentTool {
	return &CreateAgentTool{logger: logger}
}

func (t *CreateAgentTool) Name() string { return "create_agent" }
func (t *CreateAgentTool) Description() string {
	return "Create a new research specialist for a domain and send it a first message. Fails if an agent with the same id exists."
}

func (t *CreateAgentTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1, "description": "Display name; the agent id is derived from it"},
				"description": {"type": "string", "minLength": 1, "description": "The specialist's domain of investigation"},
				"message": {"type": "string", "minLength": 1, "description": "First task for the specialist"}
			},
			"required": ["name", "description", "message"],
			"additionalProperties": false
		}`),
	}
}

type createAgentParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type createAgentResult struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Reply   string `json:"reply"`
}

func (t *CreateAgentTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_agent", t.logger, params,
		func(ctx context.Context, span trace.Span, p createAgentParams) (any, error) {
			if err := RequireFields("name", p.Name, "description", p.Description, "message", p.Message); err != nil {
				return ErrResult("%s", err)
			}
			dir, err := executingAs[SpecialistDirectory](ctx, "create agents")
			if err != nil {
				return nil, err
			}
			entry, reply, err := dir.CreateSpecialist(ctx, p.Name, p.Description, p.Message)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("agent.created", entry.ID))
			return createAgentResult{AgentID: entry.ID, Name: entry.Name, Reply: reply}, nil
		},
	)
}

// ListAgentsTool lists the specialists known to the orchestrator.
type ListAgentsTool struct {
	logger *slog.Logger
}

// NewListAgentsTool creates the list_agents tool.
func NewListAgentsTool(logger *slog.Logger) *ListAgentsTool {
	return &ListAgentsTool{logger: logger}
}

func (t *ListAgentsTool) Name() string        { return "list_agents" }
func (t *ListAgentsTool) Description() string { return "List the research specialists created so far" }

func (t *ListAgentsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}, "additionalProperties": false}`),
	}
}

func (t *ListAgentsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.list_agents", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ struct{}) (any, error) {
			dir, err := executingAs[SpecialistDirectory](ctx, "list agents")
			if err != nil {
				return nil, err
			}
			entries, err := dir.ListSpecialists(ctx)
			if err != nil {
				return nil, err
			}
			if entries == nil {
				entries = []domain.RegistryEntry{}
			}
			return JSONResult(entries)
		},
	)
}

// MessageAgentTool sends a message to an existing specialist and returns
// its reply.
type MessageAgentTool struct {
	logger *slog.Logger
}

// NewMessageAgentTool creates the message_to_research_agent tool.
func NewMessageAgentTool(logger *slog.Logger) *MessageAgentTool {
	return &MessageAgentTool{logger: logger}
}

func (t *MessageAgentTool) Name() string { return "message_to_research_agent" }
func (t *MessageAgentTool) Description() string {
	return "Send a message to an existing research specialist and wait for its reply"
}

func (t *MessageAgentTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_id": {"type": "string", "minLength": 1, "description": "Id from list_agents"},
				"message": {"type": "string", "minLength": 1, "description": "The question or task"}
			},
			"required": ["agent_id", "message"],
			"additionalProperties": false
		}`),
	}
}

type messageAgentParams struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

func (t *MessageAgentTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.message_to_research_agent", t.logger, params,
		func(ctx context.Context, _ trace.Span, p messageAgentParams) (any, error) {
			if err := RequireFields("agent_id", p.AgentID, "message", p.Message); err != nil {
				return ErrResult("%s", err)
			}
			dir, err := executingAs[SpecialistDirectory](ctx, "message agents")
			if err != nil {
				return nil, err
			}
			reply, err := dir.MessageSpecialist(ctx, p.AgentID, p.Message)
			if err != nil {
				return nil, err
			}
			return TextResult(reply), nil
		},
	)
}

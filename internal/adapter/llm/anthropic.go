package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
	"conclave/internal/infra/config"
	"conclave/internal/infra/tracer"
)

// defaultAnthropicMaxTokens is used when a request leaves MaxTokens unset;
// the Messages API requires it.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements domain.LLMProvider for the Anthropic Messages API.
type AnthropicProvider struct {
	name   string
	model  string
	client *anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates a provider backed by the official SDK client.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithHTTPClient(NewHTTPClient(cfg)),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: &client,
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	resp, err := p.client.Messages.New(ctx, toAnthropicParams(req))
	if err != nil {
		err = mapAPIError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	now := time.Now()
	out := &domain.ChatResponse{
		ID:    resp.ID,
		Model: string(resp.Model),
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Timestamp: now,
		},
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		CreatedAt: now,
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			args, err := json.Marshal(use.Input)
			if err != nil || string(args) == "null" {
				args = []byte("{}")
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, domain.ToolCall{
				ID:        use.ID,
				Name:      use.Name,
				Arguments: args,
				State:     domain.ToolStateInputAvailable,
			})
		}
	}
	out.Message.Content = text.String()

	setUsageAttrs(span, out.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, out)
	return out, nil
}

// toAnthropicParams converts a domain request. Inline tool results become
// tool_result blocks in the user turn that follows the assistant turn.
// Adjacent turns with the same role are merged.
func toAnthropicParams(req domain.ChatRequest) anthropic.MessageNewParams {
	var msgs []anthropic.MessageParam
	push := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
			return
		}
		if role == anthropic.MessageParamRoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}

	system := req.System
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case domain.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			calls := answeredCalls(m)
			for _, tc := range calls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(callArguments(tc.Arguments)), tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks)

			var results []anthropic.ContentBlockParamUnion
			for _, tc := range calls {
				results = append(results, anthropic.NewToolResultBlock(tc.ID, toolOutput(tc), tc.IsError))
			}
			push(anthropic.MessageParamRoleUser, results)
		default:
			if m.Content != "" {
				push(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)})
			}
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropicTool(t))
	}
	return params
}

func anthropicTool(t domain.ToolSchema) anthropic.ToolUnionParam {
	schema := schemaObject(t.Parameters)
	input := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if props, ok := schema["properties"]; ok {
		input.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				input.Required = append(input.Required, s)
			}
		}
	}

	tool := anthropic.ToolUnionParamOfTool(input, t.Name)
	if tool.OfTool != nil && t.Description != "" {
		tool.OfTool.Description = anthropic.String(t.Description)
	}
	return tool
}

var _ domain.LLMProvider = (*AnthropicProvider)(nil)

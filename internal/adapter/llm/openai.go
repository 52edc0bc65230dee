package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
	"conclave/internal/infra/config"
	"conclave/internal/infra/tracer"
)

// maxStreamToolCalls bounds the tool-call index accepted from a stream chunk.
const maxStreamToolCalls = 50

// OpenAIProvider implements domain.StreamingLLMProvider for the OpenAI Chat
// Completions API and compatible endpoints.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider backed by the official SDK client.
// SDK retries are disabled; the agent loop owns retry policy.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
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
	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: &client,
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
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

	resp, err := p.client.Chat.Completions.New(ctx, toOpenAIParams(req))
	if err != nil {
		err = mapAPIError(err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: no choices returned", domain.ErrProviderError)
		tracer.RecordError(span, err)
		return nil, err
	}

	msg := resp.Choices[0].Message
	out := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   msg.Content,
			Timestamp: unixTime(resp.Created),
		},
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		CreatedAt: unixTime(resp.Created),
	}
	for _, tc := range msg.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(callArguments([]byte(tc.Function.Arguments))),
			State:     domain.ToolStateInputAvailable,
		})
	}

	setUsageAttrs(span, out.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, out)
	return out, nil
}

// ChatStream implements domain.StreamingLLMProvider. Tool-call fragments are
// emitted at their stream index so consumers can merge them positionally.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)

	params := toOpenAIParams(req)
	// Without this the API omits the trailing usage chunk.
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		err = mapAPIError(err)
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	ch := make(chan domain.StreamDelta, 32)
	go func() {
		defer close(ch)
		defer span.End()
		defer stream.Close()

		emit := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *domain.Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &domain.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			for _, choice := range chunk.Choices {
				delta := domain.StreamDelta{Content: choice.Delta.Content}
				for _, tc := range choice.Delta.ToolCalls {
					idx := int(tc.Index)
					if idx < 0 || idx >= maxStreamToolCalls {
						continue
					}
					for len(delta.ToolCalls) <= idx {
						delta.ToolCalls = append(delta.ToolCalls, domain.ToolCall{})
					}
					delta.ToolCalls[idx] = domain.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: []byte(tc.Function.Arguments),
						State:     domain.ToolStateInputStreaming,
					}
				}
				if delta.Content == "" && len(delta.ToolCalls) == 0 {
					continue
				}
				if !emit(delta) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			err = mapAPIError(err)
			tracer.RecordError(span, err)
			emit(domain.StreamDelta{Err: err})
			return
		}
		if usage != nil {
			setUsageAttrs(span, *usage)
		}
		tracer.SetOK(span)
		emit(domain.StreamDelta{Done: true, Usage: usage})
	}()
	return ch, nil
}

// toOpenAIParams converts a domain request. Tool results stored inline on
// assistant turns become tool messages following that turn.
func toOpenAIParams(req domain.ChatRequest) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openAIAssistantTurn(m)...)
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schemaObject(t.Parameters),
			},
		})
	}
	return params
}

func openAIAssistantTurn(m domain.Message) []openai.ChatCompletionMessageParamUnion {
	calls := answeredCalls(m)
	if len(calls) == 0 {
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(m.Content)}
	}

	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, tc := range calls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: callArguments(tc.Arguments),
			},
		})
	}

	var turn openai.ChatCompletionMessageParamUnion
	if m.Content != "" {
		turn = openai.AssistantMessage(m.Content)
		turn.OfAssistant.ToolCalls = toolCalls
	} else {
		turn = openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: toolCalls,
		}}
	}

	out := []openai.ChatCompletionMessageParamUnion{turn}
	for _, tc := range calls {
		out = append(out, openai.ToolMessage(toolOutput(tc), tc.ID))
	}
	return out
}

// Compile-time interface checks.
var (
	_ domain.LLMProvider          = (*OpenAIProvider)(nil)
	_ domain.StreamingLLMProvider = (*OpenAIProvider)(nil)
)

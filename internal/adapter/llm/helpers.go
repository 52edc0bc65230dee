package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
	"conclave/internal/infra/tracer"
)

// logChatCompleted logs the standard debug message after a successful LLM chat.
func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// mapAPIError converts an SDK error into one wrapping a domain sentinel, so
// the error classifier and circuit breaker see the same errors for every
// provider. Errors without an HTTP status are returned unchanged.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return mapHTTPError(oaiErr.StatusCode, err)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return mapHTTPError(antErr.StatusCode, err)
	}
	return err
}

// mapHTTPError maps an HTTP status code to a domain error. The "API error"
// prefix keeps the status visible to string-based classification.
func mapHTTPError(statusCode int, cause error) error {
	detail := fmt.Sprintf("API error %d: %v", statusCode, cause)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// answeredCalls returns the tool parts of m that carry a result. Parts still
// awaiting input or a decision are not sent to the model.
func answeredCalls(m domain.Message) []domain.ToolCall {
	var out []domain.ToolCall
	for _, tc := range m.ToolCalls {
		if tc.Pending() {
			continue
		}
		out = append(out, tc)
	}
	return out
}

// toolOutput returns the text reported back to the model for a tool part.
func toolOutput(tc domain.ToolCall) string {
	if tc.Output == "" && tc.IsError {
		return "Error: tool failed without output"
	}
	return tc.Output
}

// schemaObject decodes a tool parameter schema into a generic JSON object.
// An empty or invalid schema yields an empty object schema.
func schemaObject(raw json.RawMessage) map[string]any {
	obj := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			obj = map[string]any{}
		}
	}
	if _, ok := obj["type"]; !ok {
		obj["type"] = "object"
	}
	return obj
}

// callArguments returns tool arguments as a JSON object string, defaulting to "{}".
func callArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

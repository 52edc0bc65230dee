package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conclave/internal/domain"
	"conclave/internal/infra/tracer"
)

// Recovery loop constants.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// AgentDeps holds injected dependencies for the agent loop.
type AgentDeps struct {
	Name            string // used in logs and spans
	LLM             domain.LLMProvider
	Tools           domain.ToolExecutor
	ContextBuilder  *ContextBuilder
	Logger          *slog.Logger
	MaxIterations   int
	Gate            domain.ConfirmationGate                             // optional, nil = every tool runs inline
	Bus             domain.EventBus                                     // optional, nil = no events
	ErrorClassifier *ErrorClassifier                                    // optional, nil = no retries
	Checkpoint      func(ctx context.Context, conv *Conversation) error // optional, persists history mid-turn
}

// TurnResult describes how a model turn ended.
type TurnResult struct {
	Text string
	// AwaitingConfirmation lists tool calls left pending for a human decision.
	AwaitingConfirmation []domain.ToolCall
	Iterations           int
	Usage                domain.Usage
}

// Agent runs the receive-think-act loop over a Conversation.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tools == nil {
		deps.Tools = noTools{}
	}
	if deps.ContextBuilder == nil {
		deps.ContextBuilder = NewContextBuilder("", "", 0, 0)
	}
	return &Agent{deps: deps}
}

// Run drives the model over the current history until it answers without
// tool calls. The caller appends the triggering turn first.
func (a *Agent) Run(ctx context.Context, conv *Conversation) (*TurnResult, error) {
	return a.runTurn(ctx, conv, nil, nil)
}

// RunStream is Run with incremental output. Every delta is handed to sink
// in arrival order and published on the bus. Providers that cannot stream
// fall back to a synchronous call whose text is delivered as one delta.
func (a *Agent) RunStream(ctx context.Context, conv *Conversation, sink domain.DeltaSink) (*TurnResult, error) {
	if sink == nil {
		sink = func(domain.StreamDelta) {}
	}
	sp, _ := a.deps.LLM.(domain.StreamingLLMProvider)
	return a.runTurn(ctx, conv, sp, sink)
}

func (a *Agent) runTurn(ctx context.Context, conv *Conversation, sp domain.StreamingLLMProvider, sink domain.DeltaSink) (*TurnResult, error) {
	streaming := sink != nil

	spanName := "agent.run"
	if streaming {
		spanName = "agent.run_stream"
	}
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("agent.name", a.deps.Name)),
	)
	defer span.End()

	if streaming {
		a.publishEvent(ctx, domain.EventStreamStarted, conv.ID, nil)
	}

	var total domain.Usage
	for i := 0; i < a.deps.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		req := a.deps.ContextBuilder.Build(conv.Messages(), a.deps.Tools.Schemas())
		req.Stream = sp != nil

		a.publishEvent(ctx, domain.EventLLMCallStarted, conv.ID, nil)
		msg, usage, err := a.callLLMWithRetry(ctx, conv.ID, req, sp, sink, i)
		if err != nil {
			if streaming {
				a.publishEvent(ctx, domain.EventStreamError, conv.ID, domain.StreamErrorPayload{Error: err.Error()})
			}
			a.publishEvent(ctx, domain.EventAgentError, conv.ID, map[string]string{"error": err.Error()})
			tracer.RecordError(span, err)
			return nil, err
		}
		a.publishEvent(ctx, domain.EventLLMCallCompleted, conv.ID, nil)

		total.PromptTokens += usage.PromptTokens
		total.CompletionTokens += usage.CompletionTokens
		total.TotalTokens += usage.TotalTokens

		msg.Role = domain.RoleAssistant
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			if tc.ID == "" {
				tc.ID = "call_" + NewID()
			}
			tc.State = domain.ToolStateInputAvailable
			tc.Output, tc.IsError = "", false
		}
		conv.Append(msg)

		a.deps.Logger.Debug("llm response",
			"agent", a.deps.Name,
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", usage.TotalTokens,
		)

		if len(msg.ToolCalls) == 0 {
			a.checkpoint(ctx, conv)
			if streaming {
				a.publishEvent(ctx, domain.EventStreamCompleted, conv.ID, domain.StreamCompletedPayload{
					Content: msg.Content,
					Usage:   total,
				})
			}
			tracer.SetOK(span)
			return &TurnResult{Text: msg.Content, Iterations: i + 1, Usage: total}, nil
		}

		awaiting := a.runTools(ctx, conv, msg.ToolCalls)
		a.checkpoint(ctx, conv)
		if len(awaiting) > 0 {
			if streaming {
				a.publishEvent(ctx, domain.EventStreamCompleted, conv.ID, domain.StreamCompletedPayload{
					Content: msg.Content,
					Usage:   total,
				})
			}
			tracer.SetOK(span)
			return &TurnResult{Text: msg.Content, AwaitingConfirmation: awaiting, Iterations: i + 1, Usage: total}, nil
		}
	}

	if streaming {
		a.publishEvent(ctx, domain.EventStreamError, conv.ID, domain.StreamErrorPayload{
			Error: domain.ErrMaxIterations.Error(),
		})
	}
	tracer.RecordError(span, domain.ErrMaxIterations)
	return nil, domain.ErrMaxIterations
}

// runTools executes the inline tools of one assistant turn in call order and
// records each result in its part. Calls gated for confirmation stay pending
// and are returned. Once ctx is done no further tool starts.
func (a *Agent) runTools(ctx context.Context, conv *Conversation, calls []domain.ToolCall) []domain.ToolCall {
	var awaiting []domain.ToolCall
	for _, call := range calls {
		if a.deps.Gate != nil && a.deps.Gate.RequiresConfirmation(call) {
			awaiting = append(awaiting, call)
			a.publishEvent(ctx, domain.EventToolApprovalReq, conv.ID, map[string]string{
				"tool":    call.Name,
				"call_id": call.ID,
			})
			continue
		}
		if ctx.Err() != nil {
			a.deps.Logger.Info("tool skipped after cancellation", "agent", a.deps.Name, "tool", call.Name)
			continue
		}

		a.publishEvent(ctx, domain.EventToolCallStarted, conv.ID, map[string]string{"tool": call.Name})
		result := executeCall(ctx, a.deps.Tools, call, a.deps.Logger)
		a.publishEvent(ctx, domain.EventToolCallCompleted, conv.ID, map[string]any{
			"tool":    call.Name,
			"success": !result.IsError,
		})
		conv.UpdateToolCall(call.ID, func(tc *domain.ToolCall) { *tc = result })
	}
	return awaiting
}

func (a *Agent) checkpoint(ctx context.Context, conv *Conversation) {
	if a.deps.Checkpoint == nil {
		return
	}
	if err := a.deps.Checkpoint(context.WithoutCancel(ctx), conv); err != nil {
		a.deps.Logger.Warn("checkpoint failed", "agent", a.deps.Name, "error", err)
	}
}

// executeCall runs a single tool call and returns the completed part.
// Tool failures never escape as Go errors; they become output-error parts.
func executeCall(ctx context.Context, tools domain.ToolExecutor, call domain.ToolCall, logger *slog.Logger) domain.ToolCall {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	fail := func(text string) domain.ToolCall {
		call.State = domain.ToolStateOutputError
		call.Output = text
		call.IsError = true
		return call
	}

	t, err := tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return fail(err.Error())
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := t.Execute(ctx, args)
	switch {
	case err != nil:
		tracer.RecordError(span, err)
		logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fail(err.Error())
	case res == nil:
		call.State = domain.ToolStateOutputAvailable
		call.Output, call.IsError = "", false
	case res.IsError:
		span.SetAttributes(tracer.StringAttr("tool.error", res.Content))
		return fail(res.Content)
	default:
		call.State = domain.ToolStateOutputAvailable
		call.Output, call.IsError = res.Content, false
	}
	tracer.SetOK(span)
	return call
}

// callLLMWithRetry performs the model call for one iteration. When sp is
// non-nil it streams and accumulates deltas; otherwise it calls Chat and, if
// sink is set, delivers the whole text as a single delta.
func (a *Agent) callLLMWithRetry(
	ctx context.Context,
	sessionID string,
	req domain.ChatRequest,
	sp domain.StreamingLLMProvider,
	sink domain.DeltaSink,
	iteration int,
) (domain.Message, domain.Usage, error) {
	maxAttempts := 1
	if a.deps.ErrorClassifier != nil {
		maxAttempts = maxLLMRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var (
			msg     domain.Message
			usage   domain.Usage
			emitted bool
			callErr error
		)

		if sp != nil {
			msg, usage, emitted, callErr = a.streamOnce(ctx, sessionID, req, sp, sink, iteration)
		} else {
			llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
			resp, err := a.deps.LLM.Chat(llmCtx, req)
			llmSpan.End()
			if err != nil {
				callErr = err
			} else {
				msg, usage = resp.Message, resp.Usage
				if sink != nil && msg.Content != "" {
					delta := domain.StreamDelta{Content: msg.Content, Done: true}
					sink(delta)
					a.publishDelta(ctx, sessionID, delta, iteration)
				}
			}
		}

		if callErr == nil {
			return msg, usage, nil
		}
		lastErr = callErr

		// Partial output already reached the caller; a retry would repeat it.
		if emitted || a.deps.ErrorClassifier == nil || ctx.Err() != nil {
			return domain.Message{}, domain.Usage{}, lastErr
		}
		if a.deps.ErrorClassifier.Classify(callErr).Category != ErrorCategoryRetryable {
			return domain.Message{}, domain.Usage{}, lastErr
		}

		if attempt < maxAttempts-1 {
			delay := retryBackoff(attempt)
			a.deps.Logger.Info("retrying LLM call after error",
				"agent", a.deps.Name, "attempt", attempt+1, "delay", delay, "error", callErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.Message{}, domain.Usage{}, ctx.Err()
			}
		}
	}

	return domain.Message{}, domain.Usage{}, lastErr
}

// streamOnce consumes one ChatStream call. emitted reports whether any
// delta was already forwarded to the sink.
func (a *Agent) streamOnce(
	ctx context.Context,
	sessionID string,
	req domain.ChatRequest,
	sp domain.StreamingLLMProvider,
	sink domain.DeltaSink,
	iteration int,
) (msg domain.Message, usage domain.Usage, emitted bool, err error) {
	llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_stream")
	defer llmSpan.End()
	llmCtx, cancel := context.WithCancel(llmCtx)
	defer cancel()

	deltaCh, err := sp.ChatStream(llmCtx, req)
	if err != nil {
		tracer.RecordError(llmSpan, err)
		return domain.Message{}, domain.Usage{}, false, err
	}

	acc := newStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			return domain.Message{}, domain.Usage{}, emitted, ctx.Err()
		case delta, ok := <-deltaCh:
			if !ok {
				msg, usage = acc.build()
				return msg, usage, emitted, nil
			}
			if delta.Err != nil {
				tracer.RecordError(llmSpan, delta.Err)
				return domain.Message{}, domain.Usage{}, emitted, delta.Err
			}
			acc.addDelta(delta)
			if delta.Content != "" || len(delta.ToolCalls) > 0 {
				emitted = true
			}
			if sink != nil {
				sink(delta)
			}
			a.publishDelta(ctx, sessionID, delta, iteration)
		}
	}
}

func (a *Agent) publishDelta(ctx context.Context, sessionID string, delta domain.StreamDelta, iteration int) {
	a.publishEvent(ctx, domain.EventStreamDelta, sessionID, domain.StreamDeltaPayload{
		Content:   delta.Content,
		Iteration: iteration,
	})
}

func (a *Agent) publishEvent(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	PublishEvent(ctx, a.deps.Bus, eventType, sessionID, payload)
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int64N(int64(delay/4) + 1))
	return delay + jitter
}

// maxToolCallsPerDelta bounds the tool call slots the accumulator will
// allocate from malformed streaming deltas.
const maxToolCallsPerDelta = 50

// streamAccumulator collects incremental deltas into a complete message.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall // accumulated by index
	usage     domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// addDelta merges one delta. Tool calls are keyed by their position in
// delta.ToolCalls: the first fragment carries ID and Name, later fragments
// append to Arguments.
func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for idx, tc := range delta.ToolCalls {
		if idx >= maxToolCallsPerDelta {
			break
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}

		existing := &acc.toolCalls[idx]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			existing.Arguments = append(existing.Arguments, tc.Arguments...)
		}
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

// build returns the accumulated message and usage. Empty slots left by
// sparse indices are dropped.
func (acc *streamAccumulator) build() (domain.Message, domain.Usage) {
	calls := make([]domain.ToolCall, 0, len(acc.toolCalls))
	for _, tc := range acc.toolCalls {
		if tc.Name != "" {
			calls = append(calls, tc)
		}
	}
	if len(calls) == 0 {
		calls = nil
	}
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: calls,
		Timestamp: time.Now(),
	}, acc.usage
}

type noTools struct{}

func (noTools) Get(name string) (domain.Tool, error) {
	return nil, domain.NewDomainError("Tools.Get", domain.ErrToolNotFound, name)
}

func (noTools) Schemas() []domain.ToolSchema { return nil }

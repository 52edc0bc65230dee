package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
	"conclave/internal/infra/config"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if m.chatFunc == nil {
		return &domain.ChatResponse{}, nil
	}
	return m.chatFunc(ctx, req)
}

type mockStreamProvider struct {
	mockProvider
	streamFunc func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return m.streamFunc(ctx, req)
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	callCount := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			callCount++
			return nil, errors.New("upstream down")
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream down")
	}
	assert.Equal(t, 3, callCount)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 3, callCount, "open circuit must not reach the provider")
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "cancelled",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, context.Canceled
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, slog.Default())
	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	shouldFail := true
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			if shouldFail {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Message: domain.Message{Content: "recovered"}}, nil
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 2; i++ {
		_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	shouldFail = false
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerPropagatesInnerErrors(t *testing.T) {
	inner := &mockProvider{
		name: "err",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, domain.ErrRateLimit
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, slog.Default())
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestCircuitBreakerStream(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		inner := &mockStreamProvider{
			mockProvider: mockProvider{name: "stream"},
			streamFunc: func(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
				ch := make(chan domain.StreamDelta, 1)
				ch <- domain.StreamDelta{Content: "streamed", Done: true}
				close(ch)
				return ch, nil
			},
		}
		cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
		ch, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
		require.NoError(t, err)
		assert.Equal(t, "streamed", (<-ch).Content)
	})

	t.Run("non-streaming provider", func(t *testing.T) {
		inner := &mockProvider{
			name: "plain",
			chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
				return &domain.ChatResponse{
					Message: domain.Message{Content: "whole", ToolCalls: []domain.ToolCall{{ID: "c1", Name: "list_agents"}}},
					Usage:   domain.Usage{TotalTokens: 3},
				}, nil
			},
		}
		cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
		ch, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
		require.NoError(t, err)

		var deltas []domain.StreamDelta
		for d := range ch {
			deltas = append(deltas, d)
		}
		require.Len(t, deltas, 1)
		assert.Equal(t, "whole", deltas[0].Content)
		assert.Len(t, deltas[0].ToolCalls, 1)
		assert.True(t, deltas[0].Done)
		assert.Equal(t, 3, deltas[0].Usage.TotalTokens)
	})

	t.Run("setup failures trip the breaker", func(t *testing.T) {
		inner := &mockStreamProvider{
			mockProvider: mockProvider{name: "stream-flaky"},
			streamFunc: func(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
				return nil, errors.New("stream init failed")
			},
		}
		cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 5 * time.Second}, slog.Default())
		for i := 0; i < 2; i++ {
			_, _ = cb.ChatStream(context.Background(), domain.ChatRequest{})
		}
		assert.Equal(t, gobreaker.StateOpen, cb.State())

		_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	})
}

func TestCircuitBreakerCounts(t *testing.T) {
	callNum := 0
	inner := &mockProvider{
		name: "counted",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			callNum++
			if callNum <= 2 {
				return &domain.ChatResponse{}, nil
			}
			return nil, errors.New("fail")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, slog.Default())
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	assert.Equal(t, uint32(2), cb.Counts().TotalSuccesses)

	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestNewPooledTransport(t *testing.T) {
	tr := NewPooledTransport(0)
	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)

	assert.Equal(t, 45*time.Second, NewPooledTransport(45*time.Second).ResponseHeaderTimeout)
}

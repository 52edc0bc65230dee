package llm

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
	"conclave/internal/infra/config"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&mockProvider{name: "b"}))
	require.NoError(t, reg.Register(&mockProvider{name: "a"}))
	assert.Error(t, reg.Register(&mockProvider{name: "a"}))

	p, err := reg.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())

	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, domain.ErrProviderNotFound))

	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "main",
		Providers: []config.ProviderConfig{
			{Name: "main", Type: "openai", APIKey: "k", Model: "gpt-test"},
			{Name: "backup", Type: "anthropic", APIKey: "k", Model: "claude-test"},
		},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, MaxFailures: 2},
	}

	reg, err := NewRegistryFromConfig(cfg, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"backup", "main"}, reg.List())

	main, err := reg.Get("main")
	require.NoError(t, err)
	_, wrapped := main.(*CircuitBreakerProvider)
	assert.True(t, wrapped)
	_, streaming := main.(domain.StreamingLLMProvider)
	assert.True(t, streaming)

	cfg.CircuitBreaker.Enabled = false
	reg, err = NewRegistryFromConfig(cfg, slog.Default())
	require.NoError(t, err)
	backup, err := reg.Get("backup")
	require.NoError(t, err)
	_, ok := backup.(*AnthropicProvider)
	assert.True(t, ok)
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(config.ProviderConfig{Name: "x", Type: "bedrock"}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

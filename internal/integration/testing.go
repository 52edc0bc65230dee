// Package integration holds end-to-end tests that talk to real LLM
// providers. They run with -tags integration and skip without API keys.
package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"conclave/internal/adapter/llm"
	"conclave/internal/adapter/storage"
	"conclave/internal/adapter/tool"
	"conclave/internal/domain"
	"conclave/internal/infra/config"
	"conclave/internal/usecase"
	"conclave/internal/usecase/multiagent"
)

// Config holds integration test configuration from environment.
type Config struct {
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	TestTimeout    time.Duration
}

// LoadConfig loads integration test configuration from environment.
func LoadConfig() *Config {
	cfg := &Config{
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel: os.Getenv("ANTHROPIC_MODEL"),
		TestTimeout:    2 * time.Minute,
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.AnthropicModel == "" {
		cfg.AnthropicModel = "claude-3-5-haiku-latest"
	}
	return cfg
}

// SkipIfNoAPIKey skips the test if the required API key is not set.
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s integration test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewProvider builds a real provider for pc.
func NewProvider(t *testing.T, pc config.ProviderConfig) domain.LLMProvider {
	t.Helper()
	p, err := llm.NewProvider(pc, slog.Default())
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

// NewHost wires a Host over the given stores and provider with the
// production tool registries.
func NewHost(t *testing.T, provider domain.LLMProvider, bucket domain.Bucket, state domain.StateStore) *multiagent.Host {
	t.Helper()
	logger := slog.Default()
	orchTools, err := tool.NewOrchestratorRegistry(logger)
	if err != nil {
		t.Fatalf("orchestrator tools: %v", err)
	}
	specTools, err := tool.NewSpecialistRegistry(logger, nil)
	if err != nil {
		t.Fatalf("specialist tools: %v", err)
	}
	return multiagent.NewHost(multiagent.HostConfig{
		State:             state,
		Bucket:            bucket,
		LLM:               provider,
		OrchestratorTools: orchTools,
		SpecialistTools:   specTools,
		Classifier:        usecase.NewErrorClassifier(),
		Logger:            logger,
		Workspace:         multiagent.NewWorkspace("it"),
		MaxTokens:         512,
	})
}

// NewSQLiteStore opens a store in a temp dir and closes it on cleanup.
func NewSQLiteStore(t *testing.T, path string) *storage.SQLiteStore {
	t.Helper()
	db, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

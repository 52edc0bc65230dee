package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"conclave/internal/adapter/llm"
	"conclave/internal/adapter/storage"
	"conclave/internal/adapter/tool"
	"conclave/internal/domain"
	"conclave/internal/infra/config"
	"conclave/internal/infra/logger"
	"conclave/internal/infra/tracer"
	"conclave/internal/usecase"
	"conclave/internal/usecase/docstore"
	"conclave/internal/usecase/eventbus"
	"conclave/internal/usecase/multiagent"
)

// appRuntime holds the wired components shared by every command.
type appRuntime struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *eventbus.Bus
	host   *multiagent.Host

	closers []func() error
}

// loadConfig loads the config file and applies CLI overrides.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	return cfg, nil
}

// buildRuntime wires config, logging, tracing, storage, tools, the LLM and
// the agent host. Close releases everything it opened.
func buildRuntime(ctx context.Context, cli *CLI) (*appRuntime, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &appRuntime{cfg: cfg, logger: log, closers: []func() error{closeLog}}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return shutdownTracer(context.Background()) })

	bucket, state, err := rt.openStorage()
	if err != nil {
		rt.Close()
		return nil, err
	}

	provider, err := initLLM(cfg, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.bus = eventbus.New(log)
	rt.closers = append(rt.closers, func() error { rt.bus.Close(); return nil })

	orchTools, err := tool.NewOrchestratorRegistry(log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("orchestrator tools: %w", err)
	}
	specTools, err := tool.NewSpecialistRegistry(log, rt.bus)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("specialist tools: %w", err)
	}

	rt.host = multiagent.NewHost(multiagent.HostConfig{
		State:             state,
		Bucket:            bucket,
		LLM:               provider,
		OrchestratorTools: orchTools,
		SpecialistTools:   specTools,
		Gate:              usecase.NewConfirmationPolicy(cfg.Agent.RequireConfirmation, nil),
		Bus:               rt.bus,
		Classifier:        usecase.NewErrorClassifier(),
		Logger:            log,
		Workspace:         multiagent.NewWorkspace(cfg.Storage.Namespace),
		Documents: docstore.Options{
			Attempts:  cfg.Storage.Attempts,
			BaseDelay: cfg.Storage.BaseDelay,
			Logger:    log,
		},
		MaxTokens:          cfg.Agent.MaxTokens,
		Temperature:        cfg.Agent.Temperature,
		MaxIterations:      cfg.Agent.MaxIterations,
		OrchestratorPrompt: cfg.Agent.OrchestratorPrompt,
		SpecialistPrompt:   cfg.Agent.SpecialistPrompt,
		Placeholder:        cfg.Agent.Placeholder,
		FaultMessage:       cfg.Agent.FaultMessage,
		RelayTimeout:       cfg.Agent.RelayTimeout,
	})
	// In-flight relays finish before the bus and storage close.
	rt.closers = append(rt.closers, func() error { rt.host.Wait(); return nil })

	log.Info("runtime ready",
		"storage", cfg.Storage.Backend,
		"namespace", cfg.Storage.Namespace,
		"provider", provider.Name(),
	)
	return rt, nil
}

func (rt *appRuntime) openStorage() (domain.Bucket, domain.StateStore, error) {
	switch rt.cfg.Storage.Backend {
	case "memory":
		rt.logger.Warn("using in-memory storage; agent state is lost on exit")
		return storage.NewMemoryBucket(), storage.NewMemoryStateStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(rt.cfg.Storage.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("storage dir: %w", err)
		}
		db, err := storage.NewSQLiteStore(rt.cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
		}
		rt.closers = append(rt.closers, db.Close)
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", rt.cfg.Storage.Backend)
	}
}

// initLLM builds the provider registry and returns the default provider.
func initLLM(cfg *config.Config, log *slog.Logger) (domain.LLMProvider, error) {
	registry, err := llm.NewRegistryFromConfig(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	if cfg.LLM.CircuitBreaker.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cfg.LLM.CircuitBreaker.MaxFailures,
			"timeout", cfg.LLM.CircuitBreaker.Timeout,
		)
	}
	provider, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider (configured: %v): %w", registry.List(), err)
	}
	return provider, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *appRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

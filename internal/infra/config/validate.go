package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateStorage(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateGateway(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.Timeout <= 0 {
		ve.Add("agent.timeout must be > 0")
	}
	if cfg.Agent.RelayTimeout <= 0 {
		ve.Add("agent.relay_timeout must be > 0")
	}
	if cfg.Agent.OrchestratorPrompt == "" {
		ve.Add("agent.orchestrator_prompt must not be empty")
	}
	if cfg.Agent.SpecialistPrompt == "" {
		ve.Add("agent.specialist_prompt must not be empty")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		ve.Add("agent.temperature must be within [0, 2]")
	}
}

var validProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic)", i, p.Type)
		}
		if p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, EnvPrefix, strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")))
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			ve.Add("storage.path is required for the sqlite backend")
		}
	default:
		ve.Add("storage.backend %q is invalid (want: memory, sqlite)", cfg.Storage.Backend)
	}
	if strings.Trim(cfg.Storage.Namespace, "/ ") == "" {
		ve.Add("storage.namespace must not be empty")
	}
	if cfg.Storage.Attempts <= 0 {
		ve.Add("storage.attempts must be > 0")
	}
	if cfg.Storage.BaseDelay < 0 {
		ve.Add("storage.base_delay must not be negative")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if cfg.Tracer.Exporter != "stdout" && cfg.Tracer.Exporter != "noop" {
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	seen := make(map[string]bool)
	for i, tok := range cfg.Gateway.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.tokens[%d].token must not be empty", i)
			continue
		}
		if seen[tok.Token] {
			ve.Add("gateway.tokens[%d]: duplicate token", i)
		}
		seen[tok.Token] = true
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond < 0 {
		ve.Add("gateway.rate_limit.requests_per_second must not be negative")
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond > 0 && cfg.Gateway.RateLimit.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CONCLAVE_"

// Config is the root configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// AgentConfig holds agent behavior settings shared by the orchestrator and
// its specialists.
type AgentConfig struct {
	MaxIterations       int           `yaml:"max_iterations"`
	Timeout             time.Duration `yaml:"timeout"`
	RelayTimeout        time.Duration `yaml:"relay_timeout"`
	MaxTokens           int           `yaml:"max_tokens"`
	Temperature         float64       `yaml:"temperature"`
	OrchestratorPrompt  string        `yaml:"orchestrator_prompt"`
	SpecialistPrompt    string        `yaml:"specialist_prompt"` // {name} and {description} are substituted
	Placeholder         string        `yaml:"placeholder"`
	FaultMessage        string        `yaml:"fault_message"`
	RequireConfirmation []string      `yaml:"require_confirmation"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai" or "anthropic"
	BaseURL     string        `yaml:"base_url,omitempty"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
}

// StorageConfig selects the bucket and state store backend.
type StorageConfig struct {
	Backend   string        `yaml:"backend"` // "memory" or "sqlite"
	Path      string        `yaml:"path"`
	Namespace string        `yaml:"namespace"`
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// GatewayConfig holds the WebSocket gateway settings.
type GatewayConfig struct {
	Addr      string          `yaml:"addr"`
	Tokens    []TokenConfig   `yaml:"tokens,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig bounds the request rate of one gateway connection.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// defaultDataDir returns the persistent data directory under $HOME/.conclave.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".conclave")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations: 10,
			Timeout:       5 * time.Minute,
			RelayTimeout:  2 * time.Minute,
			MaxTokens:     4096,
			Temperature:   0.2,
			OrchestratorPrompt: "You are the interaction agent. You talk with the user and delegate " +
				"research to specialist agents using create_agent, list_agents and " +
				"message_to_research_agent. Specialists report back asynchronously.",
			SpecialistPrompt: "You are {name}, a research specialist. Your focus: {description}. " +
				"Keep notes with write_file, read_file and list_files, and report findings " +
				"with message_to_interaction_agent.",
			Placeholder:  "(no response)",
			FaultMessage: "Sorry, something went wrong while handling that request. Please try again.",
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    time.Minute,
			},
		},
		Storage: StorageConfig{
			Backend:   "sqlite",
			Path:      filepath.Join(defaultDataDir(), "conclave.db"),
			Namespace: "research",
			Attempts:  3,
			BaseDelay: 50 * time.Millisecond,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "conclave",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8420",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				Burst:             10,
			},
		},
	}
}

// Load reads a YAML config file, applies environment overrides and validates
// the result. A missing file yields the defaults. A ".env" file next to the
// config (or in the working directory) is loaded first without overriding
// variables that are already set.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

// ApplyEnvOverrides maps CONCLAVE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if d, ok := envDuration("AGENT_TIMEOUT"); ok {
		cfg.Agent.Timeout = d
	}
	if d, ok := envDuration("AGENT_RELAY_TIMEOUT"); ok {
		cfg.Agent.RelayTimeout = d
	}
	if v := env("AGENT_REQUIRE_CONFIRMATION"); v != "" {
		cfg.Agent.RequireConfirmation = splitAndTrim(v, ",")
	}

	if v := env("LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := env("LLM_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.LLM.CircuitBreaker.Enabled = v == "true"
	}
	// Per-provider overrides: CONCLAVE_LLM_PROVIDER_<NAME>_API_KEY / _MODEL
	for i := range cfg.LLM.Providers {
		name := strings.ToUpper(strings.ReplaceAll(cfg.LLM.Providers[i].Name, "-", "_"))
		if v := env("LLM_PROVIDER_" + name + "_API_KEY"); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
		if v := env("LLM_PROVIDER_" + name + "_MODEL"); v != "" {
			cfg.LLM.Providers[i].Model = v
		}
	}

	if v := env("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := env("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := env("STORAGE_NAMESPACE"); v != "" {
		cfg.Storage.Namespace = v
	}

	if v := env("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := env("LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := env("LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}

	if v := env("TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := env("TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	if v := env("GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	// CONCLAVE_GATEWAY_TOKEN appends a token named "env".
	if v := env("GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Tokens = append(cfg.Gateway.Tokens, TokenConfig{Token: v, Name: "env"})
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func envDuration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Provider returns the provider config with the given name.
func (c *LLMConfig) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

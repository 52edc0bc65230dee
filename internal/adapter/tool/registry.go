package tool

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"conclave/internal/domain"
)

// Registry holds named tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

var _ domain.ToolExecutor = (*Registry)(nil)

// NewRegistry creates an empty tool registry.
// If logger is non-nil, tools are wrapped with schema validation on Register;
// compilation errors are logged and the tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns error if name already registered.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	if r.logger != nil {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool",
				"tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	slices.SortFunc(tools, func(a, b domain.Tool) int { return cmp.Compare(a.Name(), b.Name()) })
	return tools
}

// Schemas returns all tool schemas for LLM function-calling, sorted by name
// so requests are stable across calls.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// NewOrchestratorRegistry builds the orchestrator tool set: create_agent,
// list_agents and message_to_research_agent.
func NewOrchestratorRegistry(logger *slog.Logger) (*Registry, error) {
	return newRegistryWith(logger,
		NewCreateAgentTool(logger),
		NewListAgentsTool(logger),
		NewMessageAgentTool(logger),
	)
}

// NewSpecialistRegistry builds the specialist tool set: write_file,
// read_file, list_files and message_to_interaction_agent.
func NewSpecialistRegistry(logger *slog.Logger, bus domain.EventBus) (*Registry, error) {
	return newRegistryWith(logger,
		NewWriteFileTool(logger, bus),
		NewReadFileTool(logger),
		NewListFilesTool(logger),
		NewRelayTool(logger),
	)
}

func newRegistryWith(logger *slog.Logger, tools ...domain.Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry(logger)
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

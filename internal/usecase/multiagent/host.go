// Package multiagent hosts the orchestrator and its specialists as durable,
// single-threaded agents addressed by stable identity.
package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conclave/internal/domain"
	"conclave/internal/usecase"
	"conclave/internal/usecase/docstore"
)

// Defaults for HostConfig.
const (
	DefaultPlaceholder   = "(no response)"
	DefaultFaultMessage  = "Something went wrong while handling your message. Please try again."
	DefaultRelayTimeout  = 2 * time.Minute
	DefaultMaxIterations = 10

	DefaultOrchestratorPrompt = `You are the interaction agent. You talk to the human and delegate research to specialist agents.
Use create_agent to start a specialist for a new domain, list_agents to see who already exists and
message_to_research_agent to ask an existing specialist. Reports from specialists arrive as messages of
the form "Agent <id> reports: ...". Summarise their findings for the human.`

	DefaultSpecialistPrompt = `You are {name}, a research specialist.
Your domain: {description}

Keep durable notes with write_file, read_file and list_files; they persist between conversations.
Use message_to_interaction_agent to report important findings back to the interaction agent.`
)

// HostConfig wires the collaborators shared by every hosted agent.
type HostConfig struct {
	State  domain.StateStore
	Bucket domain.Bucket
	LLM    domain.LLMProvider

	OrchestratorTools domain.ToolExecutor
	SpecialistTools   domain.ToolExecutor
	Gate              domain.ConfirmationGate // optional

	Bus        domain.EventBus          // optional
	Classifier *usecase.ErrorClassifier // optional, nil = no model retries
	Logger     *slog.Logger

	Workspace *Workspace
	Documents docstore.Options

	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int

	OrchestratorPrompt string
	SpecialistPrompt   string // {name} and {description} are substituted
	Placeholder        string
	FaultMessage       string
	RelayTimeout       time.Duration

	Now func() time.Time
}

func (c *HostConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Workspace == nil {
		c.Workspace = NewWorkspace("")
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.OrchestratorPrompt == "" {
		c.OrchestratorPrompt = DefaultOrchestratorPrompt
	}
	if c.SpecialistPrompt == "" {
		c.SpecialistPrompt = DefaultSpecialistPrompt
	}
	if c.Placeholder == "" {
		c.Placeholder = DefaultPlaceholder
	}
	if c.FaultMessage == "" {
		c.FaultMessage = DefaultFaultMessage
	}
	if c.RelayTimeout <= 0 {
		c.RelayTimeout = DefaultRelayTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Documents.Logger == nil {
		c.Documents.Logger = c.Logger
	}
}

// Host is the in-process runtime for durable agents. Every operation on an
// identity holds that identity's lock and loads its state from the
// StateStore; different identities proceed concurrently.
type Host struct {
	cfg    HostConfig
	locks  *usecase.IdentityLocker
	broker *Broker
}

// NewHost creates a Host.
func NewHost(cfg HostConfig) *Host {
	cfg.defaults()
	h := &Host{cfg: cfg, locks: usecase.NewIdentityLocker()}
	h.broker = newBroker(h, cfg.Bus, cfg.Logger, cfg.RelayTimeout)
	return h
}

// Orchestrator returns a handle to the orchestrator of session.
func (h *Host) Orchestrator(session string) *Orchestrator {
	return &Orchestrator{host: h, session: session}
}

// Specialist returns a handle to the specialist id of session. The id is
// sanitized.
func (h *Host) Specialist(session, id string) *Specialist {
	return &Specialist{host: h, session: session, id: SanitizeID(id)}
}

// Broker returns the cross-agent message broker.
func (h *Host) Broker() *Broker { return h.broker }

// Wait blocks until every in-flight relay has been delivered or dropped.
func (h *Host) Wait() { h.broker.Wait() }

func orchestratorKey(session string) string { return domain.KindOrchestrator + "/" + session }
func specialistKey(session, id string) string {
	return domain.KindSpecialist + "/" + session + "/" + id
}

// SessionOf maps an event's session field to the orchestrator session it
// belongs to. Agent loop events carry the orchestrator's identity key.
func SessionOf(eventSession string) string {
	return strings.TrimPrefix(eventSession, domain.KindOrchestrator+"/")
}

// withIdentity runs fn while holding the lock for identity.
func (h *Host) withIdentity(ctx context.Context, identity string, fn func() error) error {
	unlock, err := h.locks.Lock(ctx, identity)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func loadState[T any](ctx context.Context, store domain.StateStore, identity string) (T, bool, error) {
	var v T
	data, ok, err := store.Load(ctx, identity)
	if err != nil {
		return v, false, domain.WrapOp("state.load "+identity, err)
	}
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("state.load %s: decode: %w", identity, err)
	}
	return v, true, nil
}

func saveState(ctx context.Context, store domain.StateStore, identity string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state.save %s: encode: %w", identity, err)
	}
	if err := store.Save(ctx, identity, data); err != nil {
		return domain.WrapOp("state.save "+identity, err)
	}
	return nil
}

func (h *Host) newAgent(name string, tools domain.ToolExecutor, prompt string, checkpoint func(context.Context, *usecase.Conversation) error) *usecase.Agent {
	return usecase.NewAgent(usecase.AgentDeps{
		Name:            name,
		LLM:             h.cfg.LLM,
		Tools:           tools,
		ContextBuilder:  usecase.NewContextBuilder(prompt, h.cfg.Model, h.cfg.MaxTokens, h.cfg.Temperature),
		Logger:          h.cfg.Logger,
		MaxIterations:   h.cfg.MaxIterations,
		Gate:            h.cfg.Gate,
		Bus:             h.cfg.Bus,
		ErrorClassifier: h.cfg.Classifier,
		Checkpoint:      checkpoint,
	})
}

func (h *Host) specialistPrompt(name, description string) string {
	return strings.NewReplacer("{name}", name, "{description}", description).Replace(h.cfg.SpecialistPrompt)
}

// withPlaceholder replaces an empty final assistant turn with the
// placeholder text and returns the reply.
func (h *Host) withPlaceholder(conv *usecase.Conversation, text string) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	msgs := conv.Messages()
	if n := len(msgs); n > 0 {
		last := &msgs[n-1]
		if last.Role == domain.RoleAssistant && last.Content == "" && len(last.ToolCalls) == 0 {
			last.Content = h.cfg.Placeholder
			conv.Replace(msgs)
		}
	}
	return h.cfg.Placeholder
}

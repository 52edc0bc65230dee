package multiagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conclave/internal/domain"
	"conclave/internal/usecase"
)

// orchestratorState is the durable state of one orchestrator session.
type orchestratorState struct {
	Messages  []domain.Message                `json:"messages"`
	Registry  map[string]domain.RegistryEntry `json:"registry"`
	CreatedAt time.Time                       `json:"created_at"`
}

// RelayText formats a specialist report as it appears in the orchestrator's
// history.
func RelayText(agentID, text string) string {
	return fmt.Sprintf("Agent %s reports: %s", agentID, text)
}

// Orchestrator is a handle to the human-facing agent of one session.
type Orchestrator struct {
	host    *Host
	session string
}

// Session returns the session this orchestrator serves.
func (o *Orchestrator) Session() string { return o.session }

// Chat handles one human turn. Stored history is cleaned of pending tool
// parts, human confirmation decisions are reconciled, and the model reply
// is streamed to sink as it arrives. Internal faults are logged and turned
// into a fixed assistant reply; only cancellation and lock or state
// failures are returned as errors.
func (o *Orchestrator) Chat(ctx context.Context, text string, sink domain.DeltaSink) (*usecase.TurnResult, error) {
	var result *usecase.TurnResult
	err := o.withActor(ctx, func(act *orchestratorActor) error {
		act.conv.Append(domain.Message{Role: domain.RoleUser, Content: text})
		if n := usecase.CleanConversation(act.conv); n > 0 {
			o.host.cfg.Logger.Info("dropped incomplete tool turns", "session", o.session, "count", n)
		}

		runCtx := act.bind(ctx)
		if n := usecase.ReconcileConfirmations(runCtx, act.conv, o.host.cfg.OrchestratorTools, o.host.cfg.Gate, o.host.cfg.Logger); n > 0 {
			o.host.cfg.Logger.Info("reconciled tool confirmations", "session", o.session, "count", n)
		}

		agent := o.host.newAgent(orchestratorKey(o.session), o.host.cfg.OrchestratorTools, o.host.cfg.OrchestratorPrompt, act.checkpoint)
		res, err := agent.RunStream(runCtx, act.conv, sink)
		switch {
		case err == nil:
			if len(res.AwaitingConfirmation) == 0 {
				res.Text = o.host.withPlaceholder(act.conv, res.Text)
			}
			result = res
		case ctx.Err() != nil:
			return err
		default:
			o.host.cfg.Logger.Error("chat turn failed", "session", o.session, "error", err)
			act.conv.Append(domain.Message{Role: domain.RoleAssistant, Content: o.host.cfg.FaultMessage})
			if sink != nil {
				sink(domain.StreamDelta{Content: o.host.cfg.FaultMessage, Done: true})
			}
			result = &usecase.TurnResult{Text: o.host.cfg.FaultMessage}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSpecialist creates and initializes a specialist named name.
func (o *Orchestrator) CreateSpecialist(ctx context.Context, name, description, message string) (domain.RegistryEntry, string, error) {
	var (
		entry domain.RegistryEntry
		reply string
	)
	err := o.withActor(ctx, func(act *orchestratorActor) error {
		var err error
		entry, reply, err = act.CreateSpecialist(ctx, name, description, message)
		return err
	})
	return entry, reply, err
}

// ListSpecialists returns the registry sorted by name.
func (o *Orchestrator) ListSpecialists(ctx context.Context) ([]domain.RegistryEntry, error) {
	var out []domain.RegistryEntry
	err := o.withState(ctx, false, func(act *orchestratorActor) error {
		out, _ = act.ListSpecialists(ctx)
		return nil
	})
	return out, err
}

// MessageSpecialist forwards message to a registered specialist and returns
// its reply.
func (o *Orchestrator) MessageSpecialist(ctx context.Context, agentID, message string) (string, error) {
	var reply string
	err := o.withActor(ctx, func(act *orchestratorActor) error {
		var err error
		reply, err = act.MessageSpecialist(ctx, agentID, message)
		return err
	})
	return reply, err
}

// Relay folds a specialist report into the history as a user turn. It is
// seen by the model on the next human turn.
func (o *Orchestrator) Relay(ctx context.Context, agentID, text string) error {
	return o.withActor(ctx, appendRelay(agentID, text))
}

// deliverRelay is Relay for background delivery: it waits for the
// orchestrator as long as ctx allows, and only the load, append and save
// that follow are bounded by timeout.
func (o *Orchestrator) deliverRelay(ctx context.Context, timeout time.Duration, agentID, text string) error {
	key := orchestratorKey(o.session)
	return o.host.withIdentity(ctx, key, func() error {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return o.loaded(opCtx, true, appendRelay(agentID, text))
	})
}

func appendRelay(agentID, text string) func(*orchestratorActor) error {
	return func(act *orchestratorActor) error {
		act.conv.Append(domain.Message{Role: domain.RoleUser, Content: RelayText(agentID, text)})
		return nil
	}
}

// ResolveConfirmation records a human decision for a pending tool call.
// The decision takes effect on the next Chat.
func (o *Orchestrator) ResolveConfirmation(ctx context.Context, callID string, approved bool) error {
	return o.withActor(ctx, func(act *orchestratorActor) error {
		return usecase.ApproveToolCall(act.conv, callID, approved)
	})
}

// SpecialistHistory returns the conversation of a specialist registered in
// this session. Unknown ids fail with ErrAgentNotFound.
func (o *Orchestrator) SpecialistHistory(ctx context.Context, agentID string) ([]domain.Message, error) {
	id := SanitizeID(agentID)
	var known bool
	err := o.withState(ctx, false, func(act *orchestratorActor) error {
		known = act.registry.Has(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, domain.NewDomainError("Orchestrator.SpecialistHistory", domain.ErrAgentNotFound, id)
	}
	return o.host.Specialist(o.session, id).History(ctx)
}

// History returns the persisted conversation of the session.
func (o *Orchestrator) History(ctx context.Context) ([]domain.Message, error) {
	var out []domain.Message
	err := o.withState(ctx, false, func(act *orchestratorActor) error {
		out = act.conv.Messages()
		return nil
	})
	return out, err
}

// withActor runs fn against the loaded state and persists the state
// afterwards, also when fn fails: side effects already committed by tools
// stay recorded.
func (o *Orchestrator) withActor(ctx context.Context, fn func(*orchestratorActor) error) error {
	return o.withState(ctx, true, fn)
}

func (o *Orchestrator) withState(ctx context.Context, persist bool, fn func(*orchestratorActor) error) error {
	return o.host.withIdentity(ctx, orchestratorKey(o.session), func() error {
		return o.loaded(ctx, persist, fn)
	})
}

// loaded runs fn against the stored state. The caller holds the lock.
func (o *Orchestrator) loaded(ctx context.Context, persist bool, fn func(*orchestratorActor) error) error {
	key := orchestratorKey(o.session)
	st, ok, err := loadState[orchestratorState](ctx, o.host.cfg.State, key)
	if err != nil {
		return err
	}
	if !ok {
		st.CreatedAt = o.host.cfg.Now()
	}
	act := &orchestratorActor{
		host:      o.host,
		session:   o.session,
		createdAt: st.CreatedAt,
		conv:      usecase.RestoreConversation(key, st.Messages),
		registry:  NewRegistryFrom(st.Registry),
	}
	fnErr := fn(act)
	if !persist {
		return fnErr
	}
	return errors.Join(fnErr, act.save(context.WithoutCancel(ctx)))
}

// orchestratorActor is an orchestrator while it holds its identity lock.
// It is the executing agent seen by orchestrator tools.
type orchestratorActor struct {
	host      *Host
	session   string
	createdAt time.Time
	conv      *usecase.Conversation
	registry  *Registry
}

func (a *orchestratorActor) AgentID() string { return orchestratorKey(a.session) }

func (a *orchestratorActor) bind(ctx context.Context) context.Context {
	ctx = domain.ContextWithAgent(ctx, a)
	return domain.ContextWithSessionID(ctx, a.session)
}

// CreateSpecialist sanitizes name, rejects an id already in the registry
// and initializes the specialist. The registry changes only on success.
func (a *orchestratorActor) CreateSpecialist(ctx context.Context, name, description, message string) (domain.RegistryEntry, string, error) {
	const op = "Orchestrator.CreateSpecialist"
	id := SanitizeID(name)
	if a.registry.Has(id) {
		return domain.RegistryEntry{}, "", domain.NewDomainError(op, domain.ErrAgentDuplicate, id)
	}

	reply, err := a.host.broker.Initialize(ctx, a.session, id, name, description, message)
	if err != nil {
		return domain.RegistryEntry{}, "", domain.WrapOp(op, err)
	}

	entry := a.registry.Upsert(domain.RegistryEntry{
		ID:          id,
		Name:        name,
		Description: description,
	}, a.host.cfg.Now())
	usecase.PublishEvent(ctx, a.host.cfg.Bus, domain.EventAgentCreated, a.session, entry)
	a.host.cfg.Logger.Info("specialist created", "session", a.session, "agent_id", id)
	return entry, reply, nil
}

// ListSpecialists returns the registry sorted by name. It does not change
// LastActive.
func (a *orchestratorActor) ListSpecialists(context.Context) ([]domain.RegistryEntry, error) {
	return a.registry.List(), nil
}

// MessageSpecialist queries a registered specialist. Unknown ids fail with
// ErrAgentNotFound before any cross-agent call.
func (a *orchestratorActor) MessageSpecialist(ctx context.Context, agentID, message string) (string, error) {
	const op = "Orchestrator.MessageSpecialist"
	id := SanitizeID(agentID)
	if !a.registry.Has(id) {
		return "", domain.NewDomainError(op, domain.ErrAgentNotFound, id)
	}

	reply, err := a.host.broker.Query(ctx, a.session, id, message)
	if err != nil {
		return "", domain.WrapOp(op, err)
	}
	a.registry.Touch(id, a.host.cfg.Now())
	return reply, nil
}

func (a *orchestratorActor) snapshot() orchestratorState {
	return orchestratorState{
		Messages:  a.conv.Messages(),
		Registry:  a.registry.Entries(),
		CreatedAt: a.createdAt,
	}
}

func (a *orchestratorActor) save(ctx context.Context) error {
	return saveState(ctx, a.host.cfg.State, orchestratorKey(a.session), a.snapshot())
}

func (a *orchestratorActor) checkpoint(ctx context.Context, _ *usecase.Conversation) error {
	return a.save(ctx)
}

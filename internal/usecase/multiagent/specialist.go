package multiagent

import (
	"context"
	"errors"
	"sync"
	"time"

	"conclave/internal/domain"
	"conclave/internal/usecase"
	"conclave/internal/usecase/docstore"
)

// specialistState is the durable state of one specialist.
type specialistState struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Messages    []domain.Message `json:"messages"`
	Initialized bool             `json:"initialized"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Specialist is a handle to a specialist identity. Specialists belong to
// the orchestrator session that created them. Handles are cheap; all state
// lives in the host's StateStore.
type Specialist struct {
	host    *Host
	session string
	id      string
}

// ID returns the sanitized identifier.
func (s *Specialist) ID() string { return s.id }

func (s *Specialist) key() string { return specialistKey(s.session, s.id) }

// Initialize activates the specialist with its domain description and first
// message, runs one model turn and returns the reply. State is persisted
// only when the turn succeeds; calling Initialize on an active specialist
// fails with ErrAlreadyInitialized.
func (s *Specialist) Initialize(ctx context.Context, name, description, message string) (string, error) {
	var reply string
	err := s.host.withIdentity(ctx, s.key(), func() error {
		st, _, err := loadState[specialistState](ctx, s.host.cfg.State, s.key())
		if err != nil {
			return err
		}
		if st.Initialized {
			return domain.NewDomainError("Specialist.Initialize", domain.ErrAlreadyInitialized, s.id)
		}

		st = specialistState{
			Name:        name,
			Description: description,
			Initialized: true,
			CreatedAt:   s.host.cfg.Now(),
		}
		act := s.activate(st)
		act.conv.Append(domain.Message{Role: domain.RoleSystem, Content: s.host.specialistPrompt(name, description)})
		act.conv.Append(domain.Message{Role: domain.RoleUser, Content: message})

		// No checkpoint: a failed first turn must leave nothing behind.
		reply, err = act.run(ctx, nil)
		if err != nil {
			return err
		}
		return act.save(context.WithoutCancel(ctx))
	})
	return reply, err
}

// HandleMessage appends message as a user turn, runs the specialist's model
// loop and returns the reply. An uninitialized specialist yields
// ErrAgentNotFound.
func (s *Specialist) HandleMessage(ctx context.Context, message string) (string, error) {
	var reply string
	err := s.host.withIdentity(ctx, s.key(), func() error {
		st, _, err := loadState[specialistState](ctx, s.host.cfg.State, s.key())
		if err != nil {
			return err
		}
		if !st.Initialized {
			return domain.NewDomainError("Specialist.HandleMessage", domain.ErrAgentNotFound, s.id)
		}

		act := s.activate(st)
		act.conv.Append(domain.Message{Role: domain.RoleUser, Content: message})
		reply, err = act.run(ctx, act.checkpoint)
		if saveErr := act.save(context.WithoutCancel(ctx)); saveErr != nil {
			err = errors.Join(err, saveErr)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// History returns the specialist's persisted conversation.
func (s *Specialist) History(ctx context.Context) ([]domain.Message, error) {
	var out []domain.Message
	err := s.host.withIdentity(ctx, s.key(), func() error {
		st, ok, err := loadState[specialistState](ctx, s.host.cfg.State, s.key())
		if err != nil {
			return err
		}
		if !ok || !st.Initialized {
			return domain.NewDomainError("Specialist.History", domain.ErrAgentNotFound, s.id)
		}
		out = st.Messages
		return nil
	})
	return out, err
}

func (s *Specialist) activate(st specialistState) *specialistActor {
	return &specialistActor{
		host:    s.host,
		session: s.session,
		id:      s.id,
		state:   st,
		conv:    usecase.RestoreConversation(s.key(), st.Messages),
	}
}

// specialistActor is a specialist while it holds its identity lock. It is
// the executing agent seen by specialist tools.
type specialistActor struct {
	host    *Host
	session string
	id      string
	state   specialistState
	conv    *usecase.Conversation

	docsOnce sync.Once
	docs     *docstore.Store
}

func (a *specialistActor) AgentID() string { return a.id }

func (a *specialistActor) key() string { return specialistKey(a.session, a.id) }

// Documents returns the specialist's private store, built on first use.
func (a *specialistActor) Documents() domain.DocumentStore {
	a.docsOnce.Do(func() {
		a.docs = docstore.New(a.host.cfg.Bucket, a.host.cfg.Workspace.RootFor(a.session, a.id), a.state.Name, a.host.cfg.Documents)
	})
	return a.docs
}

// Relay reports text to the parent orchestrator without waiting for it.
func (a *specialistActor) Relay(ctx context.Context, text string) error {
	if a.session == "" {
		return domain.NewDomainError("Specialist.Relay", domain.ErrSessionNotFound, "no interaction agent to report to")
	}
	a.host.broker.Relay(ctx, a.id, a.session, text)
	return nil
}

func (a *specialistActor) run(ctx context.Context, checkpoint func(context.Context, *usecase.Conversation) error) (string, error) {
	ctx = domain.ContextWithAgent(ctx, a)
	ctx = domain.ContextWithSessionID(ctx, a.key())

	agent := a.host.newAgent(a.key(), a.host.cfg.SpecialistTools, "", checkpoint)
	res, err := agent.Run(ctx, a.conv)
	if err != nil {
		return "", err
	}
	return a.host.withPlaceholder(a.conv, res.Text), nil
}

func (a *specialistActor) snapshot() specialistState {
	st := a.state
	st.Messages = a.conv.Messages()
	return st
}

func (a *specialistActor) save(ctx context.Context) error {
	return saveState(ctx, a.host.cfg.State, a.key(), a.snapshot())
}

func (a *specialistActor) checkpoint(ctx context.Context, _ *usecase.Conversation) error {
	return a.save(ctx)
}

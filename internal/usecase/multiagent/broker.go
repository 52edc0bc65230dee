package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conclave/internal/domain"
	"conclave/internal/usecase"
)

// DelegateRequest describes a call from an orchestrator session to a
// specialist.
type DelegateRequest struct {
	SessionID string `json:"session_id"`
	ToAgent   string `json:"to_agent"`
	Message   string `json:"message"`
	Create    bool   `json:"create,omitempty"`
}

// RelayMessage is a specialist's out-of-band report to its orchestrator.
type RelayMessage struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Broker carries cross-agent calls between hosted agents. Delegation is
// synchronous; relays are best-effort background sends.
type Broker struct {
	host    *Host
	bus     domain.EventBus
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

func newBroker(host *Host, bus domain.EventBus, logger *slog.Logger, timeout time.Duration) *Broker {
	return &Broker{host: host, bus: bus, logger: logger, timeout: timeout, mailboxes: make(map[string]*mailbox)}
}

// Initialize creates the specialist id on behalf of session and returns its
// first reply.
func (b *Broker) Initialize(ctx context.Context, session, id, name, description, message string) (string, error) {
	req := DelegateRequest{SessionID: session, ToAgent: id, Message: message, Create: true}
	b.publish(ctx, domain.EventAgentDelegated, session, req)
	b.logger.Info("initializing specialist", "session", session, "agent_id", id)

	reply, err := b.host.Specialist(session, id).Initialize(ctx, name, description, message)
	if err != nil {
		return "", fmt.Errorf("broker: initialize %q: %w", id, err)
	}
	return reply, nil
}

// Query forwards message to the specialist id and returns its reply.
func (b *Broker) Query(ctx context.Context, session, id, message string) (string, error) {
	req := DelegateRequest{SessionID: session, ToAgent: id, Message: message}
	b.publish(ctx, domain.EventAgentDelegated, session, req)
	b.logger.Info("delegating", "session", session, "agent_id", id)

	reply, err := b.host.Specialist(session, id).HandleMessage(ctx, message)
	if err != nil {
		return "", fmt.Errorf("broker: agent %q: %w", id, err)
	}
	return reply, nil
}

// Relay delivers text from specialist agentID to the orchestrator of
// session in the background. It never blocks the caller and never reports
// failure. Relays to one session are delivered one at a time in the order
// they were sent; a busy orchestrator receives them once its current turn
// ends. The timeout bounds only the delivery itself. A relay whose state
// write fails is logged and dropped.
func (b *Broker) Relay(ctx context.Context, agentID, session, text string) {
	job := relayJob{ctx: context.WithoutCancel(ctx), msg: RelayMessage{AgentID: agentID, SessionID: session, Text: text}}

	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.mailboxes[session]
	if !ok {
		q = &mailbox{}
		b.mailboxes[session] = q
	}
	q.pending = append(q.pending, job)
	if !q.draining {
		q.draining = true
		b.wg.Add(1)
		go b.drain(session, q)
	}
}

type relayJob struct {
	ctx context.Context
	msg RelayMessage
}

// mailbox holds the undelivered relays of one session.
type mailbox struct {
	pending  []relayJob
	draining bool
}

func (b *Broker) drain(session string, q *mailbox) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(q.pending) == 0 {
			delete(b.mailboxes, session)
			b.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		b.mu.Unlock()

		b.deliver(job)
	}
}

func (b *Broker) deliver(job relayJob) {
	msg := job.msg
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("relay panicked", "agent_id", msg.AgentID, "session", msg.SessionID, "panic", r)
		}
	}()

	if err := b.host.Orchestrator(msg.SessionID).deliverRelay(job.ctx, b.timeout, msg.AgentID, msg.Text); err != nil {
		b.logger.Warn("relay dropped", "agent_id", msg.AgentID, "session", msg.SessionID, "error", err)
		return
	}
	b.publish(job.ctx, domain.EventAgentRelayed, msg.SessionID, msg)
}

// Wait blocks until all queued relays are delivered or dropped.
func (b *Broker) Wait() { b.wg.Wait() }

func (b *Broker) publish(ctx context.Context, eventType domain.EventType, session string, payload any) {
	usecase.PublishEvent(ctx, b.bus, eventType, session, payload)
}

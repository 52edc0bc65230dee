// Package eventbus is the in-process publish/subscribe bus for domain events.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"conclave/internal/domain"
)

// DefaultQueueSize is the per-subscriber backlog before events are dropped.
const DefaultQueueSize = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns one worker goroutine, so a subscriber sees events in
// publish order and a slow subscriber never delays the others.
type subscription struct {
	id      uint64
	filter  domain.EventType // empty = every event
	handler domain.EventHandler
	queue   chan delivery
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscription
	nextID    atomic.Uint64
	logger    *slog.Logger
	queueSize int
	wg        sync.WaitGroup
	closed    bool
	dropped   atomic.Uint64
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return NewWithQueueSize(logger, DefaultQueueSize)
}

// NewWithQueueSize creates an event bus with a custom per-subscriber backlog.
func NewWithQueueSize(logger *slog.Logger, size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:      make(map[uint64]*subscription),
		logger:    logger,
		queueSize: size,
	}
}

var _ domain.EventBus = (*Bus)(nil)

// Publish enqueues event for every matching subscriber. It never blocks:
// when a subscriber's backlog is full the event is dropped for that
// subscriber and counted. Handlers receive a context detached from the
// publisher's cancellation.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.filter != "" && sub.filter != event.Type {
			continue
		}
		select {
		case sub.queue <- d:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber backlog full",
				"event", string(event.Type), "subscription", sub.id)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.subscribe(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.subscribe("", handler)
}

func (b *Bus) subscribe(filter domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		filter:  filter,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.queue)
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for d := range sub.queue {
		b.invoke(sub, d)
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Dropped returns how many deliveries were discarded because a subscriber
// fell behind.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting events, lets every subscriber drain its backlog and
// waits for the workers to exit. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

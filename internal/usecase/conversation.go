package usecase

import (
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"conclave/internal/domain"
)

// NewID returns a new lexicographically sortable identifier.
func NewID() string {
	return ulid.Make().String()
}

// Conversation is the ordered turn history owned by one agent.
type Conversation struct {
	mu        sync.RWMutex
	ID        string           `json:"id"`
	Msgs      []domain.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewConversation creates an empty conversation.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Msgs:      make([]domain.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RestoreConversation rebuilds a conversation from persisted turns.
func RestoreConversation(id string, msgs []domain.Message) *Conversation {
	c := NewConversation(id)
	c.Msgs = append(c.Msgs, msgs...)
	return c
}

// Append adds a turn, assigning an ID and timestamp when missing, and
// returns the stored turn.
func (c *Conversation) Append(msg domain.Message) domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.Msgs = append(c.Msgs, msg)
	c.UpdatedAt = time.Now()
	return msg
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]domain.Message, len(c.Msgs))
	copy(cp, c.Msgs)
	return cp
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Msgs)
}

// Replace swaps the whole history, e.g. after cleanup.
func (c *Conversation) Replace(msgs []domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Msgs = append(make([]domain.Message, 0, len(msgs)), msgs...)
	c.UpdatedAt = time.Now()
}

// FindToolCall returns the tool part with the given call ID.
func (c *Conversation) FindToolCall(callID string) (domain.ToolCall, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.Msgs) - 1; i >= 0; i-- {
		for _, tc := range c.Msgs[i].ToolCalls {
			if tc.ID == callID {
				return tc, true
			}
		}
	}
	return domain.ToolCall{}, false
}

// UpdateToolCall applies fn to the tool part with the given call ID.
// Copies previously returned by Messages are not affected.
func (c *Conversation) UpdateToolCall(callID string, fn func(*domain.ToolCall)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Msgs) - 1; i >= 0; i-- {
		for j := range c.Msgs[i].ToolCalls {
			if c.Msgs[i].ToolCalls[j].ID != callID {
				continue
			}
			calls := slices.Clone(c.Msgs[i].ToolCalls)
			fn(&calls[j])
			c.Msgs[i].ToolCalls = calls
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

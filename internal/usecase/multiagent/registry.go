package multiagent

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"conclave/internal/domain"
)

// Registry is the orchestrator's directory of specialists, keyed by
// sanitized id. It lives inside the orchestrator's durable state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]domain.RegistryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]domain.RegistryEntry)}
}

// NewRegistryFrom restores a registry from persisted entries.
func NewRegistryFrom(entries map[string]domain.RegistryEntry) *Registry {
	r := NewRegistry()
	for id, e := range entries {
		r.entries[id] = e
	}
	return r
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (domain.RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Upsert stores entry under entry.ID. An existing CreatedAt is preserved;
// LastActive is set to now.
func (r *Registry) Upsert(entry domain.RegistryEntry, now time.Time) domain.RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[entry.ID]; ok && !prev.CreatedAt.IsZero() {
		entry.CreatedAt = prev.CreatedAt
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.LastActive = now
	r.entries[entry.ID] = entry
	return entry
}

// Touch sets LastActive for id. Returns false if id is unknown.
func (r *Registry) Touch(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.LastActive = now
	r.entries[id] = e
	return true
}

// List returns every entry sorted by name, ties broken by id. The result is
// never nil.
func (r *Registry) List() []domain.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.RegistryEntry) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a copy of the entries for persistence.
func (r *Registry) Entries() map[string]domain.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.RegistryEntry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

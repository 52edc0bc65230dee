// Package storage provides the object bucket and agent state backends.
package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"conclave/internal/domain"
)

// MemoryBucket is an in-process domain.Bucket. Contents are lost on exit.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string]domain.Object
}

var _ domain.Bucket = (*MemoryBucket)(nil)

// NewMemoryBucket creates an empty bucket.
func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string]domain.Object)}
}

func (b *MemoryBucket) Get(_ context.Context, key string) (*domain.Object, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, false, nil
	}
	obj.Data = slices.Clone(obj.Data)
	return &obj, true, nil
}

func (b *MemoryBucket) Put(_ context.Context, key string, data []byte, meta domain.ObjectMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = domain.Object{Key: key, Data: slices.Clone(data), Meta: meta}
	return nil
}

func (b *MemoryBucket) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0)
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *MemoryBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// MemoryStateStore is an in-process domain.StateStore.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

var _ domain.StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates an empty state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string][]byte)}
}

func (s *MemoryStateStore) Load(_ context.Context, identity string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.states[identity]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(data), true, nil
}

func (s *MemoryStateStore) Save(_ context.Context, identity string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[identity] = slices.Clone(data)
	return nil
}

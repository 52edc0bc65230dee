package usecase

import (
	"context"
	"sync"

	"conclave/internal/domain"
)

// IdentityLocker serializes operations per agent identity. Different
// identities never block each other.
type IdentityLocker struct {
	mu    sync.Mutex
	locks map[string]*identityMutex
}

type identityMutex struct {
	sem      chan struct{}
	refCount int
}

// NewIdentityLocker creates a new identity locker.
func NewIdentityLocker() *IdentityLocker {
	return &IdentityLocker{locks: make(map[string]*identityMutex)}
}

// Lock acquires the lock for identity, blocking until it is free or ctx is
// done. The returned unlock function MUST be called; extra calls are no-ops.
func (l *IdentityLocker) Lock(ctx context.Context, identity string) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, lockTimeout(identity, err)
	}
	m := l.acquireRef(identity)

	select {
	case m.sem <- struct{}{}:
		return l.unlocker(identity, m), nil
	case <-ctx.Done():
		l.release(identity, m)
		return nil, lockTimeout(identity, ctx.Err())
	}
}

func lockTimeout(identity string, cause error) error {
	return domain.NewSubSystemError("lock", "IdentityLocker.Lock", domain.ErrTimeout, identity+": "+cause.Error())
}

func (l *IdentityLocker) acquireRef(identity string) *identityMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[identity]
	if !ok {
		m = &identityMutex{sem: make(chan struct{}, 1)}
		l.locks[identity] = m
	}
	m.refCount++
	return m
}

func (l *IdentityLocker) unlocker(identity string, m *identityMutex) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-m.sem
			l.release(identity, m)
		})
	}
}

func (l *IdentityLocker) release(identity string, m *identityMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refCount--
	if m.refCount == 0 {
		delete(l.locks, identity)
	}
}

// ActiveCount returns the number of identities with held or pending locks.
func (l *IdentityLocker) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
)

func TestIdentityLocker_SerializesSameIdentity(t *testing.T) {
	l := NewIdentityLocker()
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Go(func() {
			unlock, err := l.Lock(context.Background(), "specialist/dmd")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()
			n := active.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Zero(t, l.ActiveCount())
}

func TestIdentityLocker_DifferentIdentitiesConcurrent(t *testing.T) {
	l := NewIdentityLocker()
	unlockA, err := l.Lock(context.Background(), "specialist/a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "specialist/b")
	require.NoError(t, err)
	unlockB()
}

func TestIdentityLocker_ContextCancel(t *testing.T) {
	l := NewIdentityLocker()
	unlock, err := l.Lock(context.Background(), "orchestrator/default")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "orchestrator/default")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.CodeLockTimeout, domain.ErrorCodeOf(err))

	unlock()
	unlock() // idempotent
	assert.Zero(t, l.ActiveCount())

	again, err := l.Lock(context.Background(), "orchestrator/default")
	require.NoError(t, err)
	again()
}

func TestIdentityLocker_AlreadyCancelled(t *testing.T) {
	l := NewIdentityLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Lock(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Zero(t, l.ActiveCount())
}

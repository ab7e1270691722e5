package ledger

import (
	"context"
	"sync"
	"time"
)

// lockManager hands out per-entity mutexes so concurrent charges
// against the same campaign serialize without a global lock. Entries
// are reference counted and removed when the last holder releases.
type lockManager struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	sem  chan struct{}
	refs int
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[string]*entityLock)}
}

// acquire takes the lock for key, waiting at most timeout. It returns
// false when the wait expires or ctx is cancelled first.
func (m *lockManager) acquire(ctx context.Context, key string, timeout time.Duration) bool {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &entityLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	m.unref(key, l)
	return false
}

// release frees the lock taken by a successful acquire.
func (m *lockManager) release(key string) {
	m.mu.Lock()
	l, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-l.sem
	m.unref(key, l)
}

func (m *lockManager) unref(key string, l *entityLock) {
	m.mu.Lock()
	l.refs--
	if l.refs <= 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

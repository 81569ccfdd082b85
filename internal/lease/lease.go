// Package lease makes sure only one monitor loop runs per bus, in this process
// or, with Redis, across replicas.
package lease

import (
	"context"
	"sync"
	"time"
)

// Locker hands out expiring leases keyed by name.
type Locker interface {
	// Acquire takes the lease if nobody holds it. It reports false when it is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Refresh extends a lease this holder owns. It reports false when it was lost.
	Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && l.now().Before(exp) {
		return false, nil
	}
	l.held[key] = l.now().Add(ttl)
	return true, nil
}

func (l *Local) Refresh(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; !ok {
		return false, nil
	}
	l.held[key] = l.now().Add(ttl)
	return true, nil
}

func (l *Local) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

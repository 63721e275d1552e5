// Package local provides single-process coordination primitives used when
// the escalator runs without etcd.
package local

import (
	"context"
	"sync"

	"business-escalation/internal/domain"
)

type localLock struct {
	locker *Locker
	name   string
	once   sync.Once
}

func (l *localLock) Unlock(_ context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.name)
		l.locker.mu.Unlock()
	})
	return nil
}

// Locker is a non-blocking in-process implementation of domain.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker creates a Locker with no locks held.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// Lock acquires name or returns domain.ErrLockNotAcquired if it is held.
func (l *Locker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[name] = struct{}{}
	return &localLock{locker: l, name: name}, nil
}

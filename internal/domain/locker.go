// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock cannot be acquired, for example,
// if it's already held by another process.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock names used by the escalation engine.
const (
	SweepLockName = "sweep"
)

// TaskLockName is the lock serialising transitions of a single task.
func TaskLockName(taskID string) string {
	return "task/" + taskID
}

// Lock represents an acquired lock.
type Lock interface {
	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// Locker defines the interface for a locking mechanism shared by every
// process that can transition tasks.
type Locker interface {
	// Lock attempts to acquire a lock for the given name.
	// It is non-blocking: if the lock is already held, it must return
	// ErrLockNotAcquired.
	Lock(ctx context.Context, name string) (Lock, error)
}

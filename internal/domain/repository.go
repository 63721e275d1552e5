package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task does not exist in the store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrBusinessNotFound is returned when a business does not exist in the registry.
	ErrBusinessNotFound = errors.New("business not found")
	// ErrCapacityExhausted is returned by ClaimCapacity when the business is
	// already at capacity at write time.
	ErrCapacityExhausted = errors.New("business capacity exhausted")
)

// TaskRepository is the task store the escalation engine reads from and
// writes contact state to.
type TaskRepository interface {
	Find(ctx context.Context, filter TaskFilter) ([]*Task, error)
	Count(ctx context.Context, filter TaskFilter) (int, error)
	Get(ctx context.Context, id string) (*Task, error)
	Save(ctx context.Context, task *Task) error
}

// BusinessRepository is the business registry. The capacity methods are
// conditional updates evaluated by the store at write time.
type BusinessRepository interface {
	Find(ctx context.Context, filter BusinessFilter) ([]*Business, error)
	FindSorted(ctx context.Context, filter BusinessFilter, sort BusinessSort) ([]*Business, error)
	Get(ctx context.Context, id string) (*Business, error)
	Save(ctx context.Context, business *Business) error

	// ClaimCapacity increments CurrentLoad and TotalAssigned and sets
	// LastContactedAt to now, only if CurrentLoad < Capacity. It returns the
	// updated business or ErrCapacityExhausted.
	ClaimCapacity(ctx context.Context, id string, now time.Time) (*Business, error)
	// ReleaseCapacity decrements CurrentLoad, never below zero.
	ReleaseCapacity(ctx context.Context, id string) (*Business, error)
	// ReleaseClaim undoes a ClaimCapacity whose contact never happened: it
	// decrements CurrentLoad and TotalAssigned, never below zero, and puts
	// LastContactedAt back to previousContact.
	ReleaseClaim(ctx context.Context, id string, previousContact *time.Time) (*Business, error)
	// RecordSuccess increments SuccessfulAssignments.
	RecordSuccess(ctx context.Context, id string) error
	// ResetLoad zeroes CurrentLoad on every active business and returns how
	// many were touched.
	ResetLoad(ctx context.Context) (int, error)
}

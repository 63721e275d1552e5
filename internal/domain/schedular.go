package domain

import "context"

// Schedular triggers the periodic escalation jobs.
type Schedular interface {
	// Start blocks until ctx is done or Stop is called.
	Start(ctx context.Context) error
	Stop()
}

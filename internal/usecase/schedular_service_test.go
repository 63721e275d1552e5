package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"business-escalation/internal/infra/local"
)

// blockingSchedular runs until stopped and reports each start.
type blockingSchedular struct {
	started chan struct{}
	stop    chan struct{}
}

func newBlockingSchedular() *blockingSchedular {
	return &blockingSchedular{started: make(chan struct{}, 4), stop: make(chan struct{}, 4)}
}

func (b *blockingSchedular) Start(ctx context.Context) error {
	b.started <- struct{}{}
	select {
	case <-b.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingSchedular) Stop() {
	b.stop <- struct{}{}
}

func TestSchedularService_FollowsLeadership(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	election := local.NewLeaderElectionManager("node-1", logger)
	schedular := newBlockingSchedular()
	svc := NewSchedularService(election, schedular, "node-1", logger)
	svc.retryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	waitStarted := func() {
		t.Helper()
		select {
		case <-schedular.started:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler was not started")
		}
	}

	waitStarted()
	if !election.IsLeader() {
		t.Fatal("expected node to be leader")
	}

	// Losing leadership stops the scheduler; the service campaigns again.
	if err := election.Resign(context.Background()); err != nil {
		t.Fatalf("Resign failed: %v", err)
	}
	waitStarted()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if election.IsLeader() {
		t.Error("expected leadership to be resigned on shutdown")
	}
}

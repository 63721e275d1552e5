package local

import (
	"context"
	"log/slog"
	"sync"
)

// LeaderElectionManager makes the only process the leader. Leadership is
// lost only on Resign.
type LeaderElectionManager struct {
	mu       sync.Mutex
	isLeader bool
	lost     chan struct{}
	nodeID   string
	logger   *slog.Logger
}

func NewLeaderElectionManager(nodeID string, logger *slog.Logger) *LeaderElectionManager {
	return &LeaderElectionManager{
		nodeID: nodeID,
		logger: logger.With("component", "leader-election"),
	}
}

func (m *LeaderElectionManager) Campaign(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isLeader {
		m.isLeader = true
		m.lost = make(chan struct{})
		m.logger.Info("running as single-node leader", "node_id", m.nodeID)
	}
	return m.lost, nil
}

func (m *LeaderElectionManager) Resign(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isLeader {
		m.isLeader = false
		close(m.lost)
		m.logger.Info("resigning leadership", "node_id", m.nodeID)
	}
	return nil
}

func (m *LeaderElectionManager) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLeader
}

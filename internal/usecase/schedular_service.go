package usecase

import (
	"context"
	"log/slog"
	"time"

	"business-escalation/internal/domain"
	"business-escalation/internal/metrics"
)

// SchedularService runs the cron scheduler only while this node is leader.
type SchedularService struct {
	leaderManager domain.LeaderElectionManager
	schedular     domain.Schedular
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

func NewSchedularService(leaderManager domain.LeaderElectionManager, schedular domain.Schedular, nodeID string, logger *slog.Logger) *SchedularService {
	return &SchedularService{
		leaderManager: leaderManager,
		schedular:     schedular,
		nodeID:        nodeID,
		retryDelay:    5 * time.Second,
		logger:        logger.With("component", "schedular-service", "node_id", nodeID),
	}
}

// Start campaigns for leadership until ctx is done. Each time leadership is
// won the scheduler is started, and it is stopped when leadership is lost.
func (s *SchedularService) Start(ctx context.Context) error {
	s.logger.Info("scheduler service starting")
	leader := metrics.IsLeader.WithLabelValues(s.nodeID)
	leader.Set(0)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler service shutting down")
			return err
		}

		s.logger.Info("campaigning for leadership")
		lost, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("leadership campaign failed, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
			}
			continue
		}

		s.logger.Info("became leader, starting scheduler")
		leader.Set(1)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := s.schedular.Start(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler stopped with error", "error", err)
			}
		}()

		select {
		case <-lost:
			s.logger.Warn("leadership lost, stopping scheduler")
		case <-ctx.Done():
		}
		s.schedular.Stop()
		<-done
		leader.Set(0)

		if ctx.Err() != nil {
			resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.retryDelay)
			if err := s.leaderManager.Resign(resignCtx); err != nil {
				s.logger.Error("failed to resign leadership", "error", err)
			}
			cancel()
		}
	}
}

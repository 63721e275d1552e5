package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"business-escalation/internal/domain"

	kgo "github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// HandlerFunc delivers one volunteer request.
type HandlerFunc func(ctx context.Context, req *domain.VolunteerRequest) error

// Consumer reads volunteer requests from a topic and commits each message
// after it was handled.
type Consumer struct {
	reader messageReader
	logger *slog.Logger
}

// NewConsumer creates a consumer in groupID reading topic from brokers.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
	return newConsumer(r, logger)
}

func newConsumer(r messageReader, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: r,
		logger: logger.With("component", "kafka-consumer"),
	}
}

// Run handles messages until ctx is done. Malformed messages and failed
// deliveries are logged and committed so one bad message cannot stall the
// partition. It returns nil when ctx is canceled.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	c.logger.Info("kafka consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("kafka consumer stopped")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		logger := c.logger.With("partition", m.Partition, "offset", m.Offset)

		var req domain.VolunteerRequest
		if err := json.Unmarshal(m.Value, &req); err != nil || req.BusinessID == "" || req.TaskInfo.ID == "" {
			logger.Error("dropping malformed volunteer request", "error", err)
		} else if err := handle(ctx, &req); err != nil {
			logger.Warn("failed to deliver volunteer request", "task_id", req.TaskInfo.ID, "error", err)
		}

		if err := c.commit(ctx, m); err != nil {
			return err
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) commit(ctx context.Context, m kgo.Message) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(cctx, m); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", m.Offset, err)
	}
	return nil
}

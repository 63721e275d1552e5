// Package kafka carries volunteer requests from escalator nodes to notifier
// nodes through a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"business-escalation/internal/domain"

	kgo "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Producer is a domain.Notifier that publishes volunteer requests as JSON,
// keyed by task ID so retries for one task stay ordered.
type Producer struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewProducer creates a producer writing to topic on brokers.
func NewProducer(brokers []string, topic string, logger *slog.Logger) (*Producer, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}
	return newProducer(w, logger), nil
}

func newProducer(w messageWriter, logger *slog.Logger) *Producer {
	return &Producer{
		writer:  w,
		timeout: 3 * time.Second,
		logger:  logger.With("component", "kafka-producer"),
	}
}

// SendBusinessVolunteerRequest implements domain.Notifier.
func (p *Producer) SendBusinessVolunteerRequest(ctx context.Context, req *domain.VolunteerRequest) (bool, error) {
	if err := p.publishJSON(ctx, req.TaskInfo.ID, req); err != nil {
		return false, fmt.Errorf("failed to publish volunteer request for task %s: %w", req.TaskInfo.ID, err)
	}
	p.logger.Info("volunteer request published", "task_id", req.TaskInfo.ID, "business_id", req.BusinessID)
	return true, nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) publishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// internal/worker/server.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"business-escalation/internal/domain"
	"business-escalation/internal/metrics"
	"business-escalation/internal/notifierpb"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultDeliveryTimeout bounds one delivery started from an RPC.
const DefaultDeliveryTimeout = 60 * time.Second

// Server implements notifierpb.NotifierServer. Requests are accepted
// immediately and delivered in the background.
type Server struct {
	notifierpb.UnimplementedNotifierServer
	deliverer domain.Deliverer
	mode      string
	nodeID    string
	logger    *slog.Logger
	tracer    trace.Tracer
	inflight  sync.WaitGroup
}

// NewServer creates a notifier node server delivering through deliverer.
// mode labels the delivery metrics.
func NewServer(deliverer domain.Deliverer, mode, nodeID string, logger *slog.Logger) *Server {
	return &Server{
		deliverer: deliverer,
		mode:      mode,
		nodeID:    nodeID,
		logger:    logger.With("component", "notifier-server", "delivery_mode", mode),
		tracer:    otel.Tracer("business-escalation-notifier"),
	}
}

// SendVolunteerRequest is the RPC called by escalator nodes.
func (s *Server) SendVolunteerRequest(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	ctx, span := s.tracer.Start(ctx, "notifier.SendVolunteerRequest.Accept")
	defer span.End()

	req, err := notifierpb.ToDomain(in)
	if err != nil {
		s.logger.Error("rejected malformed volunteer request", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid volunteer request")
		return nil, status.Error(grpccodes.InvalidArgument, err.Error())
	}
	span.SetAttributes(
		attribute.String("business.id", req.BusinessID),
		attribute.String("task.id", req.TaskInfo.ID),
	)

	deliveryID := uuid.NewString()
	parent := trace.SpanFromContext(ctx).SpanContext()

	s.inflight.Add(1)
	go s.runDelivery(parent, deliveryID, req)

	s.logger.Info("accepted volunteer request", "delivery_id", deliveryID, "business_id", req.BusinessID, "task_id", req.TaskInfo.ID)
	return wrapperspb.String(deliveryID), nil
}

// Handle delivers req synchronously. The Kafka consumer uses it.
func (s *Server) Handle(ctx context.Context, req *domain.VolunteerRequest) error {
	return s.deliver(ctx, uuid.NewString(), req)
}

// Wait blocks until background deliveries have finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// runDelivery runs one accepted request detached from the RPC's context.
func (s *Server) runDelivery(parent trace.SpanContext, deliveryID string, req *domain.VolunteerRequest) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultDeliveryTimeout)
	defer cancel()
	ctx = trace.ContextWithRemoteSpanContext(ctx, parent)

	if err := s.deliver(ctx, deliveryID, req); err != nil {
		s.logger.Warn("background delivery failed", "delivery_id", deliveryID, "error", err)
	}
}

func (s *Server) deliver(ctx context.Context, deliveryID string, req *domain.VolunteerRequest) (err error) {
	ctx, span := s.tracer.Start(ctx, "notifier.deliver", trace.WithAttributes(
		attribute.String("delivery.id", deliveryID),
		attribute.String("delivery.mode", s.mode),
		attribute.String("business.id", req.BusinessID),
	))
	defer span.End()

	logger := s.logger.With("delivery_id", deliveryID, "business_id", req.BusinessID, "task_id", req.TaskInfo.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
			logger.Error("delivery panicked", "panic", r)
		}
		if err != nil {
			metrics.NotifierDeliveriesTotal.WithLabelValues(s.mode, "failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
			return
		}
		metrics.NotifierDeliveriesTotal.WithLabelValues(s.mode, "success").Inc()
		span.SetStatus(codes.Ok, "delivered")
	}()

	logger.Info("delivering volunteer request", "node_id", s.nodeID)
	output, err := s.deliverer.Deliver(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to deliver volunteer request for task %s: %w", req.TaskInfo.ID, err)
	}
	logger.Info("volunteer request delivered", "output", output)
	return nil
}

// internal/master/dispatcher.go
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"business-escalation/internal/domain"
	"business-escalation/internal/notifierpb"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrNoNotifierNodes is returned when no notifier node is known.
var ErrNoNotifierNodes = errors.New("no notifier nodes available")

// Dispatcher is a domain.Notifier that forwards volunteer requests to
// notifier nodes over gRPC. It starts at a random node and fails over to the
// next one until a node accepts the request.
type Dispatcher struct {
	nodes    NodeSource
	dialOpts []grpc.DialOption
	clients  map[string]notifierpb.NotifierClient
	conns    []*grpc.ClientConn
	mu       sync.Mutex
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher over nodes. Extra dial options are
// appended to the defaults.
func NewDispatcher(nodes NodeSource, logger *slog.Logger, opts ...grpc.DialOption) *Dispatcher {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	return &Dispatcher{
		nodes:    nodes,
		dialOpts: append(dialOpts, opts...),
		clients:  make(map[string]notifierpb.NotifierClient),
		logger:   logger.With("component", "dispatcher"),
		tracer:   otel.Tracer("business-escalation-dispatcher"),
	}
}

// SendBusinessVolunteerRequest implements domain.Notifier.
func (d *Dispatcher) SendBusinessVolunteerRequest(ctx context.Context, req *domain.VolunteerRequest) (bool, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.SendBusinessVolunteerRequest", trace.WithAttributes(
		attribute.String("business.id", req.BusinessID),
		attribute.String("task.id", req.TaskInfo.ID),
	))
	defer span.End()

	nodes := d.nodes.GetNodes()
	if len(nodes) == 0 {
		span.SetStatus(codes.Error, "no notifier nodes")
		return false, ErrNoNotifierNodes
	}

	msg, err := notifierpb.FromDomain(req)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	var lastErr error
	start := rand.IntN(len(nodes))
	for i := range nodes {
		addr := nodes[(start+i)%len(nodes)]

		client, err := d.getOrCreateClient(addr)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := client.SendVolunteerRequest(ctx, msg)
		if err != nil {
			d.logger.Warn("notifier node rejected volunteer request", "addr", addr, "task_id", req.TaskInfo.ID, "error", err)
			lastErr = err
			continue
		}

		d.logger.Info("volunteer request dispatched",
			"addr", addr, "task_id", req.TaskInfo.ID, "business_id", req.BusinessID, "delivery_id", resp.GetValue())
		span.SetAttributes(attribute.String("delivery.id", resp.GetValue()))
		return true, nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all notifier nodes failed")
	return false, fmt.Errorf("failed to dispatch volunteer request to %d notifier nodes: %w", len(nodes), lastErr)
}

// Close closes every cached connection.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, conn := range d.conns {
		errs = append(errs, conn.Close())
	}
	d.conns = nil
	d.clients = make(map[string]notifierpb.NotifierClient)
	return errors.Join(errs...)
}

func (d *Dispatcher) getOrCreateClient(addr string) (notifierpb.NotifierClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[addr]; ok {
		return client, nil
	}

	conn, err := grpc.NewClient(addr, d.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to notifier node at %s: %w", addr, err)
	}

	client := notifierpb.NewNotifierClient(conn)
	d.clients[addr] = client
	d.conns = append(d.conns, conn)
	d.logger.Info("created new gRPC client for notifier node", "addr", addr)

	return client, nil
}

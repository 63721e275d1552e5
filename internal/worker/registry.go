// internal/worker/registry.go
package worker

import (
	"context"
	"fmt"
	"log/slog"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// NotifierRegistryPrefix is the etcd prefix where notifier nodes register
	// their gRPC address.
	NotifierRegistryPrefix = "/escalation/notifiers/"
)

// Registry keeps a notifier node's registration alive in etcd.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
	value   string
	stop    context.CancelFunc
}

// NewRegistry creates a new notifier node registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "notifier-registry"),
	}
}

// Register publishes addr under the node's key with a lease of ttl seconds
// and keeps the lease alive until Deregister.
func (r *Registry) Register(ctx context.Context, nodeID, addr string, ttl int64) error {
	r.key = NotifierRegistryPrefix + nodeID
	r.value = addr

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err := r.client.Put(ctx, r.key, r.value, clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put notifier registration key: %w", err)
	}

	keepAliveCtx, stop := context.WithCancel(context.Background())
	keepAliveCh, err := r.client.KeepAlive(keepAliveCtx, r.leaseID)
	if err != nil {
		stop()
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}
	r.stop = stop

	go func() {
		for ka := range keepAliveCh {
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		if keepAliveCtx.Err() == nil {
			r.logger.Warn("keep-alive channel closed, notifier registration may have expired")
		}
	}()

	r.logger.Info("notifier node registered", "key", r.key, "addr", r.value)
	return nil
}

// Deregister revokes the lease, which deletes the registration key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering notifier node", "key", r.key)
	if r.stop != nil {
		r.stop()
	}
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

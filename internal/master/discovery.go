// internal/master/discovery.go
package master

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"business-escalation/internal/worker"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// NodeSource lists the gRPC addresses of notifier nodes.
type NodeSource interface {
	GetNodes() []string
}

// StaticNodes is a fixed list of notifier node addresses.
type StaticNodes []string

// GetNodes returns the configured addresses.
func (s StaticNodes) GetNodes() []string {
	return s
}

// NodeDiscovery tracks notifier nodes registered in etcd.
type NodeDiscovery struct {
	client *clientv3.Client
	logger *slog.Logger
	nodes  map[string]string // node key -> address
	mu     sync.RWMutex
}

// NewNodeDiscovery creates a new discovery service.
func NewNodeDiscovery(client *clientv3.Client, logger *slog.Logger) *NodeDiscovery {
	return &NodeDiscovery{
		client: client,
		logger: logger.With("component", "notifier-discovery"),
		nodes:  make(map[string]string),
	}
}

// WatchNodes loads the current registrations and then follows changes until
// ctx is done. It blocks and should be run in a goroutine.
func (d *NodeDiscovery) WatchNodes(ctx context.Context) {
	d.logger.Info("starting to watch for notifier nodes")

	rev, err := d.loadInitialNodes(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial notifier node load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	watchChan := d.client.Watch(ctx, worker.NotifierRegistryPrefix, opts...)

	for watchResp := range watchChan {
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)

			d.mu.Lock()
			switch event.Type {
			case clientv3.EventTypePut:
				addr := string(event.Kv.Value)
				if _, ok := d.nodes[key]; !ok {
					d.logger.Info("notifier node discovered", "node", nodeID(key), "addr", addr)
				}
				d.nodes[key] = addr
			case clientv3.EventTypeDelete:
				d.logger.Info("notifier node deregistered", "node", nodeID(key), "addr", d.nodes[key])
				delete(d.nodes, key)
			}
			d.mu.Unlock()
		}
	}
	d.logger.Info("stopped watching for notifier nodes")
}

// Refresh loads the current registrations once. One-shot commands use it in
// place of WatchNodes.
func (d *NodeDiscovery) Refresh(ctx context.Context) error {
	if _, err := d.loadInitialNodes(ctx); err != nil {
		return fmt.Errorf("failed to load notifier nodes: %w", err)
	}
	return nil
}

func (d *NodeDiscovery) loadInitialNodes(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, worker.NotifierRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		d.logger.Info("found existing notifier node", "node", nodeID(key), "addr", string(kv.Value))
		d.nodes[key] = string(kv.Value)
	}
	return resp.Header.Revision, nil
}

// GetNodes returns a sorted snapshot of the known notifier addresses.
func (d *NodeDiscovery) GetNodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addrs := make([]string, 0, len(d.nodes))
	for _, addr := range d.nodes {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

func nodeID(key string) string {
	return strings.TrimPrefix(key, worker.NotifierRegistryPrefix)
}

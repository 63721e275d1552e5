package main

import (
	"context"
	"fmt"
	"log/slog"

	"business-escalation/internal/assignment"
	"business-escalation/internal/config"
	"business-escalation/internal/domain"
	"business-escalation/internal/infra/etcd"
	"business-escalation/internal/infra/kafka"
	"business-escalation/internal/infra/local"
	"business-escalation/internal/infra/memory"
	"business-escalation/internal/infra/sqlite"
	"business-escalation/internal/master"
	"business-escalation/internal/matching"
	"business-escalation/internal/usecase"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// app holds the components of an escalator process and the resources that
// must be released when it exits.
type app struct {
	cfg       *config.Config
	nodeID    string
	service   *usecase.EscalationService
	leader    domain.LeaderElectionManager
	discovery *master.NodeDiscovery
	closers   []func() error
	logger    *slog.Logger
}

type stores struct {
	tasks      domain.TaskRepository
	businesses domain.BusinessRepository
	sweeps     domain.SweepRepository
	locker     domain.Locker
}

// buildApp wires the store backend, the notifier transport and the
// escalation service from cfg. Close must be called on the returned app
// even when later steps fail.
func buildApp(cfg *config.Config, nodeID string, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, nodeID: nodeID, logger: logger}

	var etcdClient *clientv3.Client
	if cfg.StoreBackend == "etcd" || (cfg.NotifierTransport == "grpc" && cfg.NotifierDiscovery == "etcd") {
		client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return a, err
		}
		etcdClient = client
		a.closers = append(a.closers, client.Close)
		logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)
	}

	st, err := a.buildStores(etcdClient)
	if err != nil {
		return a, err
	}

	notifier, err := a.buildNotifier(etcdClient)
	if err != nil {
		return a, err
	}

	matcher := matching.NewMatcher(st.businesses, matching.Options{
		Cooldown:             cfg.ContactCooldown,
		ReliabilityThreshold: cfg.ReliabilityThreshold,
		DistanceThresholdKm:  cfg.DistanceThresholdKm,
	}, nil, logger)
	machine := assignment.NewStateMachine(st.tasks, st.businesses, st.locker, nil, logger)

	a.service = usecase.NewEscalationService(
		st.tasks, st.businesses, st.sweeps,
		matcher, machine, notifier, st.locker,
		usecase.SweepOptions{
			BatchSize:    cfg.ThrottleBatchSize,
			Pause:        cfg.ThrottlePause,
			StoreTimeout: cfg.StoreTimeout,
			NodeID:       nodeID,
		},
		logger,
	)
	return a, nil
}

func (a *app) buildStores(etcdClient *clientv3.Client) (*stores, error) {
	switch a.cfg.StoreBackend {
	case "etcd":
		a.leader = etcd.NewEtcdLeaderElectionManager(etcdClient, a.nodeID, a.cfg.LeaderElectionTTL, a.logger)
		return &stores{
			tasks:      etcd.NewEtcdTaskRepository(etcdClient, a.logger),
			businesses: etcd.NewEtcdBusinessRepository(etcdClient, a.logger),
			sweeps:     etcd.NewEtcdSweepRepository(etcdClient, a.logger),
			locker:     etcd.NewEtcdLocker(etcdClient),
		}, nil
	case "sqlite":
		db, err := sqlite.Open(a.cfg.SqlitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.leader = local.NewLeaderElectionManager(a.nodeID, a.logger)
		a.logger.Info("opened sqlite store", "path", a.cfg.SqlitePath)
		return &stores{
			tasks:      sqlite.NewTaskRepository(db),
			businesses: sqlite.NewBusinessRepository(db),
			sweeps:     sqlite.NewSweepRepository(db),
			locker:     local.NewLocker(),
		}, nil
	case "memory":
		a.leader = local.NewLeaderElectionManager(a.nodeID, a.logger)
		return &stores{
			tasks:      memory.NewTaskRepository(),
			businesses: memory.NewBusinessRepository(),
			sweeps:     memory.NewSweepRepository(),
			locker:     local.NewLocker(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.StoreBackend)
	}
}

func (a *app) buildNotifier(etcdClient *clientv3.Client) (domain.Notifier, error) {
	switch a.cfg.NotifierTransport {
	case "grpc":
		var nodes master.NodeSource = master.StaticNodes(a.cfg.NotifierAddrs)
		if a.cfg.NotifierDiscovery == "etcd" {
			a.discovery = master.NewNodeDiscovery(etcdClient, a.logger)
			nodes = a.discovery
		}
		dispatcher := master.NewDispatcher(nodes, a.logger)
		a.closers = append(a.closers, dispatcher.Close)
		return dispatcher, nil
	case "kafka":
		producer, err := kafka.NewProducer(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		return producer, nil
	case "log":
		return local.NewLogNotifier(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier transport %q", a.cfg.NotifierTransport)
	}
}

// syncNodes loads notifier registrations once for commands that do not run
// the discovery watch.
func (a *app) syncNodes(ctx context.Context) {
	if a.discovery == nil {
		return
	}
	if err := a.discovery.Refresh(ctx); err != nil {
		a.logger.Warn("notifier discovery unavailable, volunteer requests will not be delivered", "error", err)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", "error", err)
		}
	}
}

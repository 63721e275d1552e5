// cmd/notifier/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"business-escalation/internal/config"
	"business-escalation/internal/domain"
	"business-escalation/internal/infra/etcd"
	http_infra "business-escalation/internal/infra/http"
	"business-escalation/internal/infra/kafka"
	"business-escalation/internal/infra/local"
	"business-escalation/internal/infra/ses"
	shell_infra "business-escalation/internal/infra/shell"
	"business-escalation/internal/notifierpb"
	"business-escalation/internal/tracing"
	"business-escalation/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "notifier",
		Short: "Delivers volunteer requests to business partners",
		Long: `notifier accepts volunteer requests from escalator nodes over gRPC, and
optionally from a Kafka topic, and delivers them by webhook, command, email
or log.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if configDir != "" {
				cfg, err = config.Load(configDir)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cfg)
		},
	}
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.yaml (default ./configs and .)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("node_id", nodeID)
	slog.SetDefault(logger)

	if cfg.TracingEnabled {
		shutdown, err := tracing.InitTracer(tracing.NotifierService, nodeID, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deliverer, err := newDeliverer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	notifierServer := worker.NewServer(deliverer, cfg.DeliveryMode, nodeID, logger)

	lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	notifierpb.RegisterNotifierServer(grpcServer, notifierServer)

	if cfg.NotifierDiscovery == "etcd" {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return err
		}
		defer etcdClient.Close()

		registry := worker.NewRegistry(etcdClient, logger)
		regCtx, regCancel := context.WithTimeout(ctx, 5*time.Second)
		err = registry.Register(regCtx, nodeID, cfg.AdvertisedGrpcAddr(), int64(cfg.LeaderElectionTTL.Seconds()))
		regCancel()
		if err != nil {
			return fmt.Errorf("failed to register notifier node: %w", err)
		}
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister notifier node", "error", err)
			}
		}()
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GrpcListenAddr, "delivery_mode", cfg.DeliveryMode)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	if cfg.KafkaConsume {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger)
		defer consumer.Close()
		g.Go(func() error {
			logger.Info("consuming volunteer requests", "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
			return consumer.Run(gctx, notifierServer.Handle)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down notifier node gracefully")
		grpcServer.GracefulStop()
		notifierServer.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("notifier node shut down")
	return nil
}

func newDeliverer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Deliverer, error) {
	switch cfg.DeliveryMode {
	case "webhook":
		return http_infra.NewWebhookDeliverer(cfg.WebhookURL, http_infra.RetryPolicy{
			MaxRetries: cfg.WebhookRetries,
			Backoff:    cfg.WebhookBackoff,
		}, logger), nil
	case "command":
		return shell_infra.NewCommandDeliverer(cfg.DeliveryCommand, logger), nil
	case "email":
		client, err := ses.NewClient(ctx, cfg.AwsRegion)
		if err != nil {
			return nil, err
		}
		deliverer, err := ses.NewEmailDeliverer(client, cfg.SesFromEmail, logger)
		if err != nil {
			return nil, err
		}
		return deliverer, nil
	case "log":
		return local.NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery mode %q", cfg.DeliveryMode)
	}
}

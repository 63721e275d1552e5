package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	http_api "business-escalation/internal/api/http"
	"business-escalation/internal/scheduler"
	"business-escalation/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func serveCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sweeps",
		Long: `Run the escalator node. The HTTP API and /metrics are served on every
node; the sweep and daily load reset schedules only run on the elected leader.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			return runApp(load, logger, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cronScheduler, err := scheduler.NewCronScheduler(a.service, a.cfg.SweepSchedule, a.cfg.ResetLoadSchedule, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	schedularService := usecase.NewSchedularService(a.leader, cronScheduler, a.nodeID, a.logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	http_api.NewEscalationHandler(a.service, a.logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              a.cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.discovery != nil {
		g.Go(func() error {
			a.discovery.WatchNodes(gctx)
			return nil
		})
	}

	g.Go(func() error {
		err := schedularService.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.logger.Info("starting HTTP API server", "addr", a.cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down escalator gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("escalator shut down")
	return nil
}

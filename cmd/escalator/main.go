// cmd/escalator/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"business-escalation/internal/config"
	"business-escalation/internal/tracing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "escalator",
		Short: "Escalates stranded volunteer tasks to business partners",
		Long: `escalator finds tasks that reached their escalation deadline without a
volunteer and contacts the best matching business partner for each of them.

Run "escalator serve" for the long-running node with the HTTP API and the
scheduled sweeps, or use the one-shot commands against the same store.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing config.yaml (default ./configs and .)")

	load := func() (*config.Config, error) {
		if configDir != "" {
			return config.Load(configDir)
		}
		return config.Load()
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(sweepCmd(load))
	rootCmd.AddCommand(statsCmd(load))
	rootCmd.AddCommand(resetLoadCmd(load))
	rootCmd.AddCommand(declineCmd(load))
	rootCmd.AddCommand(finalizeCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loadFunc func() (*config.Config, error)

// runApp loads the configuration, builds the app and runs fn with a context
// that is canceled on SIGINT or SIGTERM.
func runApp(load loadFunc, logger *slog.Logger, fn func(ctx context.Context, a *app) error) error {
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	logger = logger.With("node_id", nodeID)
	slog.SetDefault(logger)

	if cfg.TracingEnabled {
		shutdown, err := tracing.InitTracer(tracing.EscalatorService, nodeID, os.Stderr)
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

	a, err := buildApp(cfg, nodeID, logger)
	defer a.Close()
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

// cliLogger keeps one-shot command output on stdout readable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

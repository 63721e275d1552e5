package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"business-escalation/internal/config"
	"business-escalation/internal/domain"

	"github.com/fatih/color"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildApp_Backends(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *config.Config, dir string)
	}{
		"memory store with log notifier": {
			mutate: func(c *config.Config, dir string) {},
		},
		"sqlite store with static grpc notifier": {
			mutate: func(c *config.Config, dir string) {
				c.StoreBackend = "sqlite"
				c.SqlitePath = filepath.Join(dir, "data", "escalation.db")
				c.NotifierTransport = "grpc"
				c.NotifierAddrs = []string{"127.0.0.1:1"}
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cfg, err := config.Load(dir)
			if err != nil {
				t.Fatalf("failed to load config: %v", err)
			}
			tc.mutate(cfg, dir)

			a, err := buildApp(cfg, "node-test", discardLogger())
			defer a.Close()
			if err != nil {
				t.Fatalf("failed to build app: %v", err)
			}
			if a.leader == nil || a.service == nil {
				t.Fatal("expected leader election and service to be wired")
			}

			report, err := a.service.RunSweep(context.Background())
			if err != nil {
				t.Fatalf("sweep failed: %v", err)
			}
			if report.NodeID != "node-test" || len(report.Results) != 0 {
				t.Errorf("report mismatch:\n  got:  node=%s results=%d\n  want: node=node-test results=0", report.NodeID, len(report.Results))
			}
		})
	}
}

func TestBuildApp_UnknownBackend(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg.StoreBackend = "postgres"

	a, err := buildApp(cfg, "node-test", discardLogger())
	defer a.Close()
	if err == nil {
		t.Fatal("expected an error for an unknown store backend")
	}
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	started := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	report := &domain.SweepReport{
		ID:         "sweep-1",
		Trigger:    domain.TriggerManual,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Error:      "sweep aborted after 3 of 4 tasks: context canceled",
	}
	report.Add(domain.SweepResult{TaskID: "t1", BusinessID: "b1", Success: true, Message: domain.MessageContacted})
	report.Add(domain.SweepResult{TaskID: "t2", Message: domain.MessageNoMatch})
	report.Add(domain.SweepResult{TaskID: "t3", Message: "store unavailable"})

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	for _, want := range []string{
		"Sweep sweep-1 (manual) took 1.5s",
		"CONTACTED  t1 -> b1",
		"NO MATCH   t2",
		"FAILED     t3: store unavailable",
		"1 succeeded, 2 failed",
		"ERROR sweep aborted after 3 of 4 tasks",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

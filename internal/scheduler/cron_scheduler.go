// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"business-escalation/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAlreadyRunning is returned by Start when the scheduler is running.
var ErrAlreadyRunning = errors.New("cron scheduler already running")

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a schedule the scheduler accepts.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Sweeper is the work the scheduler triggers.
type Sweeper interface {
	RunScheduledSweep(ctx context.Context) (*domain.SweepReport, error)
	ResetDailyLoad(ctx context.Context) (int, error)
}

// CronScheduler triggers the escalation sweep and the daily load reset.
// Each job is skipped while its previous run is still in progress.
type CronScheduler struct {
	sweeper       Sweeper
	sweepSchedule string
	resetSchedule string

	mu     sync.Mutex
	cancel context.CancelFunc

	logger *slog.Logger
	tracer trace.Tracer
}

// NewCronScheduler validates both schedules and creates a stopped scheduler.
func NewCronScheduler(sweeper Sweeper, sweepSchedule, resetSchedule string, logger *slog.Logger) (*CronScheduler, error) {
	if err := ValidateSchedule(sweepSchedule); err != nil {
		return nil, fmt.Errorf("failed to configure sweep job: %w", err)
	}
	if err := ValidateSchedule(resetSchedule); err != nil {
		return nil, fmt.Errorf("failed to configure reset job: %w", err)
	}
	return &CronScheduler{
		sweeper:       sweeper,
		sweepSchedule: sweepSchedule,
		resetSchedule: resetSchedule,
		logger:        logger.With("component", "cron-scheduler"),
		tracer:        otel.Tracer("business-escalation-scheduler"),
	}, nil
}

// Start runs the jobs until ctx is done or Stop is called, then waits for
// running jobs to return. Jobs see a context that is canceled on stop, so a
// sweep in progress aborts between tasks.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []*cronJobWrapper{
		{name: "escalation-sweep", schedule: s.sweepSchedule, run: s.sweep},
		{name: "daily-load-reset", schedule: s.resetSchedule, run: s.reset},
	}
	for _, job := range jobs {
		job.ctx = runCtx
		job.logger = s.logger.With("job_name", job.name)
		job.tracer = s.tracer
		if _, err := c.AddJob(job.schedule, job); err != nil {
			return fmt.Errorf("failed to add job %s: %w", job.name, err)
		}
		s.logger.Info("added job to scheduler", "job_name", job.name, "schedule", job.schedule)
	}

	s.logger.Info("cron scheduler started")
	c.Start()
	<-runCtx.Done()
	s.logger.Info("cron scheduler stopping...")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

// Stop makes a running Start return. It is a no-op when the scheduler is
// stopped.
func (s *CronScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Running reports whether Start is in progress.
func (s *CronScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *CronScheduler) sweep(ctx context.Context) error {
	report, err := s.sweeper.RunScheduledSweep(ctx)
	if errors.Is(err, domain.ErrSweepInProgress) {
		s.logger.Info("skipping scheduled sweep, another sweep is running")
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("scheduled sweep completed", "sweep_id", report.ID, "succeeded", report.Succeeded, "failed", report.Failed)
	return nil
}

func (s *CronScheduler) reset(ctx context.Context) error {
	_, err := s.sweeper.ResetDailyLoad(ctx)
	return err
}

// cronJobWrapper adapts a scheduler job to cron.Job.
type cronJobWrapper struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
	ctx      context.Context
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Run is called by the cron library.
func (w *cronJobWrapper) Run() {
	// Start a new trace for this background job execution.
	ctx, span := w.tracer.Start(w.ctx, "scheduler.Run",
		trace.WithAttributes(attribute.String("job.name", w.name)))
	defer span.End()

	w.logger.Info("running job")
	if err := w.run(ctx); err != nil {
		w.logger.Error("job failed", "error", err)
		span.RecordError(err)
	}
}

// cronLogger routes robfig/cron logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

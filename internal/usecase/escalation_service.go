package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"business-escalation/internal/assignment"
	"business-escalation/internal/domain"
	"business-escalation/internal/matching"
	"business-escalation/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultThrottleBatchSize = 5
	DefaultThrottlePause     = 2 * time.Second
	DefaultStoreTimeout      = 5 * time.Second
)

// SweepOptions tunes how a sweep paces and bounds its work.
type SweepOptions struct {
	// BatchSize is the number of tasks processed between throttle pauses.
	BatchSize int
	// Pause is how long the sweep waits after each batch.
	Pause time.Duration
	// StoreTimeout bounds the store calls made for a single task.
	StoreTimeout time.Duration
	// NodeID is recorded on sweep reports.
	NodeID string

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o SweepOptions) withDefaults() SweepOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultThrottleBatchSize
	}
	if o.Pause < 0 {
		o.Pause = 0
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// EscalationService runs escalation sweeps and the maintenance operations
// around them.
type EscalationService struct {
	tasks      domain.TaskRepository
	businesses domain.BusinessRepository
	sweeps     domain.SweepRepository
	matcher    *matching.Matcher
	machine    *assignment.StateMachine
	notifier   domain.Notifier
	locker     domain.Locker
	opts       SweepOptions
	running    sync.Mutex
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewEscalationService creates a new EscalationService instance.
func NewEscalationService(
	tasks domain.TaskRepository,
	businesses domain.BusinessRepository,
	sweeps domain.SweepRepository,
	matcher *matching.Matcher,
	machine *assignment.StateMachine,
	notifier domain.Notifier,
	locker domain.Locker,
	opts SweepOptions,
	logger *slog.Logger,
) *EscalationService {
	return &EscalationService{
		tasks:      tasks,
		businesses: businesses,
		sweeps:     sweeps,
		matcher:    matcher,
		machine:    machine,
		notifier:   notifier,
		locker:     locker,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "escalation-service"),
		tracer:     otel.Tracer("business-escalation-usecase"),
	}
}

// RunSweep runs a manually triggered sweep.
func (s *EscalationService) RunSweep(ctx context.Context) (*domain.SweepReport, error) {
	return s.runSweep(ctx, domain.TriggerManual)
}

// RunScheduledSweep runs a sweep on behalf of the scheduler.
func (s *EscalationService) RunScheduledSweep(ctx context.Context) (*domain.SweepReport, error) {
	return s.runSweep(ctx, domain.TriggerScheduled)
}

func (s *EscalationService) runSweep(ctx context.Context, trigger string) (*domain.SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.RunSweep", trace.WithAttributes(attribute.String("sweep.trigger", trigger)))
	defer span.End()

	if !s.running.TryLock() {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		return nil, domain.ErrSweepInProgress
	}
	defer s.running.Unlock()

	lock, err := s.locker.Lock(ctx, domain.SweepLockName)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			metrics.SweepsTotal.WithLabelValues("skipped").Inc()
			return nil, domain.ErrSweepInProgress
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire sweep lock")
		return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			s.logger.Error("failed to release sweep lock", "error", err)
		}
	}()

	report := &domain.SweepReport{
		ID:        uuid.New().String(),
		NodeID:    s.opts.NodeID,
		Trigger:   trigger,
		StartedAt: s.opts.Now(),
		Results:   []domain.SweepResult{},
	}
	span.SetAttributes(attribute.String("sweep.id", report.ID))
	logger := s.logger.With("sweep_id", report.ID, "trigger", trigger)
	timer := time.Now()

	findCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	tasks, err := s.tasks.Find(findCtx, domain.EscalationFilter(report.StartedAt))
	cancel()
	if err != nil {
		err = fmt.Errorf("failed to query tasks awaiting escalation: %w", err)
		report.Error = err.Error()
		s.finish(ctx, report, timer, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep aborted")
		logger.Error("sweep aborted", "error", err)
		return nil, err
	}
	logger.Info("sweep started", "tasks", len(tasks))

	var aborted error
	for i, task := range tasks {
		if i > 0 && i%s.opts.BatchSize == 0 {
			if err := s.opts.Sleep(ctx, s.opts.Pause); err != nil {
				aborted = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			aborted = err
			break
		}

		res := s.processTask(ctx, task)
		report.Add(res)
		metrics.TaskResultsTotal.WithLabelValues(resultOutcome(res)).Inc()
	}

	if aborted != nil {
		report.Error = fmt.Sprintf("sweep aborted after %d of %d tasks: %v", len(report.Results), len(tasks), aborted)
		s.finish(ctx, report, timer, "aborted")
		logger.Warn("sweep aborted", "processed", len(report.Results), "tasks", len(tasks), "error", aborted)
		return report, fmt.Errorf("sweep %s aborted: %w", report.ID, aborted)
	}

	s.finish(ctx, report, timer, "completed")
	span.SetAttributes(attribute.Int("sweep.succeeded", report.Succeeded), attribute.Int("sweep.failed", report.Failed))
	logger.Info("sweep finished", "succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}

// processTask matches and transitions a single task. Failures, including
// panics, become a failed result so the sweep can continue.
func (s *EscalationService) processTask(ctx context.Context, task *domain.Task) (res domain.SweepResult) {
	res = domain.SweepResult{TaskID: task.ID}
	logger := s.logger.With("task_id", task.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing task", "panic", r)
			res = domain.SweepResult{TaskID: task.ID, Message: fmt.Sprintf("panic while processing task: %v", r)}
		}
	}()

	// A transition in flight runs to completion even if the sweep is stopped.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()

	candidates, err := s.matcher.Candidates(taskCtx, task)
	if err != nil {
		logger.Error("failed to match task", "error", err)
		res.Message = err.Error()
		return res
	}

	ranked := make([]*domain.Business, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c.Business)
	}

	outcome, err := s.machine.Contact(taskCtx, task.ID, ranked)
	if err != nil {
		logger.Error("failed to transition task", "error", err)
		res.Message = err.Error()
		return res
	}
	if !outcome.Matched() {
		logger.Info("no suitable business found", "candidates", len(candidates), "rejected", len(outcome.Rejected))
		res.Message = domain.MessageNoMatch
		return res
	}

	res.BusinessID = outcome.Business.ID
	res.Success = true
	res.Message = domain.MessageContacted
	logger.Info("business contacted", "business_id", outcome.Business.ID)

	s.notify(taskCtx, outcome, logger)
	return res
}

// notify sends the volunteer request. The assignment is already committed, so
// a failed delivery is only logged.
func (s *EscalationService) notify(ctx context.Context, outcome *assignment.Outcome, logger *slog.Logger) {
	req := domain.NewVolunteerRequest(outcome.Business, outcome.Task)
	sent, err := s.notifier.SendBusinessVolunteerRequest(ctx, req)
	switch {
	case err != nil:
		logger.Warn("failed to notify business", "business_id", req.BusinessID, "error", err)
	case !sent:
		logger.Warn("business notification was not accepted", "business_id", req.BusinessID)
	default:
		metrics.BusinessContactsTotal.Inc()
	}
}

func (s *EscalationService) finish(ctx context.Context, report *domain.SweepReport, started time.Time, status string) {
	report.FinishedAt = s.opts.Now()
	metrics.SweepsTotal.WithLabelValues(status).Inc()
	metrics.SweepDuration.Observe(time.Since(started).Seconds())

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	if err := s.sweeps.Save(saveCtx, report); err != nil {
		s.logger.Error("failed to save sweep report", "sweep_id", report.ID, "error", err)
	}
}

// ResetDailyLoad zeroes the current load of every active business.
func (s *EscalationService) ResetDailyLoad(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.ResetDailyLoad")
	defer span.End()

	n, err := s.businesses.ResetLoad(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reset business load")
		return 0, fmt.Errorf("failed to reset daily load: %w", err)
	}
	span.SetAttributes(attribute.Int("businesses.reset", n))
	s.logger.Info("daily business load reset", "businesses", n)
	return n, nil
}

// GetStats computes the escalation rollup. Response time and success rate
// are averaged over businesses that have been assigned at least once.
func (s *EscalationService) GetStats(ctx context.Context) (*domain.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetStats")
	defer span.End()

	awaiting, err := s.tasks.Count(ctx, domain.EscalationFilter(s.opts.Now()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count tasks")
		return nil, fmt.Errorf("failed to count tasks awaiting contact: %w", err)
	}

	active, err := s.businesses.Find(ctx, domain.BusinessFilter{ActiveOnly: true})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list active businesses")
		return nil, fmt.Errorf("failed to list active businesses: %w", err)
	}

	assigned, err := s.businesses.Find(ctx, domain.BusinessFilter{MinTotalAssigned: 1})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list assigned businesses")
		return nil, fmt.Errorf("failed to list assigned businesses: %w", err)
	}

	stats := &domain.Stats{
		TasksAwaitingBusinessContact: awaiting,
		BusinessesActive:             len(active),
	}
	if len(assigned) > 0 {
		var responseTotal, rateTotal float64
		for _, b := range assigned {
			responseTotal += b.AvgResponseTimeHours
			rateTotal += b.SuccessRate()
		}
		stats.AverageResponseTime = responseTotal / float64(len(assigned))
		stats.SuccessRate = rateTotal / float64(len(assigned))
	}
	return stats, nil
}

// DeclineTask records that the assigned business declined the task.
func (s *EscalationService) DeclineTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.machine.Decline(ctx, taskID)
}

// FinalizeTask records the volunteer the assigned business supplied.
func (s *EscalationService) FinalizeTask(ctx context.Context, taskID string, info domain.VolunteerInfo) (*domain.Task, error) {
	return s.machine.Finalize(ctx, taskID, info)
}

// CanBusinessHandle is the ad-hoc eligibility check for a business outside
// of a sweep.
func (s *EscalationService) CanBusinessHandle(ctx context.Context, businessID, category string, lat, lng float64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "service.CanBusinessHandle", trace.WithAttributes(attribute.String("business.id", businessID)))
	defer span.End()

	b, err := s.businesses.Get(ctx, businessID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get business")
		return false, err
	}
	return b.CanHandleTask(category, lat, lng), nil
}

// SaveBusiness upserts a business profile. The counters the engine owns are
// kept from the stored record.
func (s *EscalationService) SaveBusiness(ctx context.Context, b *domain.Business) error {
	ctx, span := s.tracer.Start(ctx, "service.SaveBusiness")
	defer span.End()

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if err := b.Validate(); err != nil {
		return err
	}

	now := s.opts.Now()
	existing, err := s.businesses.Get(ctx, b.ID)
	switch {
	case err == nil:
		b.CurrentLoad = existing.CurrentLoad
		b.TotalAssigned = existing.TotalAssigned
		b.SuccessfulAssignments = existing.SuccessfulAssignments
		b.LastContactedAt = existing.LastContactedAt
		b.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrBusinessNotFound):
		b.CreatedAt = now
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read business")
		return fmt.Errorf("failed to read business %s: %w", b.ID, err)
	}
	b.UpdatedAt = now
	span.SetAttributes(attribute.String("business.id", b.ID))

	if err := s.businesses.Save(ctx, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save business")
		return fmt.Errorf("failed to save business %s: %w", b.ID, err)
	}
	return nil
}

// ListBusinesses lists active businesses, optionally offering category, with
// the most reliable and fastest responding first.
func (s *EscalationService) ListBusinesses(ctx context.Context, category string) ([]*domain.Business, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListBusinesses", trace.WithAttributes(attribute.String("category", category)))
	defer span.End()

	businesses, err := s.businesses.FindSorted(ctx, domain.BusinessFilter{ActiveOnly: true, Category: category}, domain.SortByReliability)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list businesses from registry")
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	return businesses, nil
}

// SaveTask upserts a task as published by the platform. The escalation
// deadline is derived from the creation time and urgency when it is not set.
// An update that omits the creation time keeps the stored one, so routine
// edits never push the deadline out.
func (s *EscalationService) SaveTask(ctx context.Context, t *domain.Task) error {
	ctx, span := s.tracer.Start(ctx, "service.SaveTask")
	defer span.End()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Urgency == "" {
		t.Urgency = domain.UrgencyNormal
	}
	span.SetAttributes(attribute.String("task.id", t.ID))

	// The contact fields belong to the engine; an upsert from the platform
	// must not reopen or reassign a task.
	existing, err := s.tasks.Get(ctx, t.ID)
	switch {
	case err == nil:
		t.Contacted = existing.Contacted
		t.ContactedAt = existing.ContactedAt
		t.AssignedBusinessID = existing.AssignedBusinessID
		t.BusinessVolunteerInfo = existing.BusinessVolunteerInfo
		if t.CreatedAt.IsZero() {
			t.CreatedAt = existing.CreatedAt
		}
		if t.EscalationDeadline.IsZero() && t.Urgency == existing.Urgency {
			t.EscalationDeadline = existing.EscalationDeadline
		}
	case !errors.Is(err, domain.ErrTaskNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read task")
		return fmt.Errorf("failed to read task %s: %w", t.ID, err)
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.opts.Now()
	}
	if t.EscalationDeadline.IsZero() {
		t.EscalationDeadline = domain.EscalationDeadline(t.CreatedAt, t.Urgency)
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save task")
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// ListSweeps lists sweep reports, newest first.
func (s *EscalationService) ListSweeps(ctx context.Context, page, pageSize int) ([]*domain.SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListSweeps")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	reports, err := s.sweeps.List(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sweeps from repository")
	}
	return reports, err
}

// GetSweep returns a single sweep report.
func (s *EscalationService) GetSweep(ctx context.Context, id string) (*domain.SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetSweep", trace.WithAttributes(attribute.String("sweep.id", id)))
	defer span.End()

	report, err := s.sweeps.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get sweep from repository")
	}
	return report, err
}

func resultOutcome(res domain.SweepResult) string {
	switch {
	case res.Success:
		return "contacted"
	case res.Message == domain.MessageNoMatch:
		return "no_match"
	default:
		return "failed"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

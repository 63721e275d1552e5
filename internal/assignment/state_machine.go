// Package assignment applies the contact, assign, decline and finalize
// transitions to tasks and the matching business counters.
//
// The state of a task is encoded in its contact fields:
//
//	open                -> contacted_no_match   (no candidate could be claimed)
//	open                -> contacted_assigned   (capacity claimed on a business)
//	contacted_assigned  -> open                 (business declined)
//	contacted_assigned  -> finalized            (business supplied a volunteer)
//
// Every transition holds the task's lock and re-reads the task inside it, so
// two sweeps racing on the same task contact at most one business.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"business-escalation/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome describes what a contact transition did.
type Outcome struct {
	Task *domain.Task
	// Business is the business whose capacity was claimed, nil on no match.
	Business *domain.Business
	// Rejected lists candidates whose capacity claim failed at write time.
	Rejected []string
}

// Matched reports whether a business was assigned.
func (o *Outcome) Matched() bool {
	return o.Business != nil
}

// StateMachine applies task transitions against the task store and business
// registry.
type StateMachine struct {
	tasks      domain.TaskRepository
	businesses domain.BusinessRepository
	locker     domain.Locker
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewStateMachine creates a StateMachine. now may be nil, in which case
// time.Now is used.
func NewStateMachine(tasks domain.TaskRepository, businesses domain.BusinessRepository, locker domain.Locker, now func() time.Time, logger *slog.Logger) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		tasks:      tasks,
		businesses: businesses,
		locker:     locker,
		now:        now,
		logger:     logger.With("component", "state-machine"),
		tracer:     otel.Tracer("business-escalation-assignment"),
	}
}

// Contact moves an open task to contacted. The ranked businesses are tried in
// order: the first whose capacity can be claimed is assigned. When none can
// be claimed the task is marked contacted without a match.
func (sm *StateMachine) Contact(ctx context.Context, taskID string, ranked []*domain.Business) (*Outcome, error) {
	ctx, span := sm.tracer.Start(ctx, "assignment.Contact", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("candidates", len(ranked)),
	))
	defer span.End()

	var outcome *Outcome
	err := sm.withTaskLock(ctx, taskID, func(task *domain.Task) error {
		now := sm.now()
		if !task.EligibleForEscalation(now) {
			return fmt.Errorf("task %s in state %s: %w", task.ID, task.State(), domain.ErrAlreadyContacted)
		}

		outcome = &Outcome{Task: task}
		var previousContact *time.Time
		for _, candidate := range ranked {
			business, err := sm.businesses.ClaimCapacity(ctx, candidate.ID, now)
			if errors.Is(err, domain.ErrCapacityExhausted) {
				sm.logger.Warn("capacity claim rejected at write time", "task_id", task.ID, "business_id", candidate.ID)
				outcome.Rejected = append(outcome.Rejected, candidate.ID)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to claim capacity on business %s: %w", candidate.ID, err)
			}
			outcome.Business = business
			previousContact = candidate.LastContactedAt
			break
		}

		return sm.commitContact(ctx, task, outcome.Business, previousContact, now)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contact transition failed")
		return nil, err
	}

	if outcome.Business != nil {
		span.SetAttributes(attribute.String("business.id", outcome.Business.ID))
	}
	return outcome, nil
}

// Assign moves an open task to contacted and assigned to business. If the
// business has no spare capacity at write time the task is left open and the
// returned error wraps domain.ErrCapacityExhausted.
func (sm *StateMachine) Assign(ctx context.Context, taskID string, business *domain.Business) (*domain.Task, error) {
	ctx, span := sm.tracer.Start(ctx, "assignment.Assign", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("business.id", business.ID),
	))
	defer span.End()

	var assigned *domain.Task
	err := sm.withTaskLock(ctx, taskID, func(task *domain.Task) error {
		now := sm.now()
		if !task.EligibleForEscalation(now) {
			return fmt.Errorf("task %s in state %s: %w", task.ID, task.State(), domain.ErrAlreadyContacted)
		}

		claimed, err := sm.businesses.ClaimCapacity(ctx, business.ID, now)
		if err != nil {
			return fmt.Errorf("failed to claim capacity on business %s: %w", business.ID, err)
		}
		if err := sm.commitContact(ctx, task, claimed, business.LastContactedAt, now); err != nil {
			return err
		}
		assigned = task
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assign transition failed")
		return nil, err
	}
	return assigned, nil
}

// MarkNoMatch moves an open task to contacted without a business.
func (sm *StateMachine) MarkNoMatch(ctx context.Context, taskID string) (*domain.Task, error) {
	outcome, err := sm.Contact(ctx, taskID, nil)
	if err != nil {
		return nil, err
	}
	return outcome.Task, nil
}

// Decline resets an assigned task to open and releases the business's
// capacity. The load never drops below zero. Once the task is saved as open
// the decline has happened: a failed release is logged and the held load is
// cleared by the next load reset.
func (sm *StateMachine) Decline(ctx context.Context, taskID string) (*domain.Task, error) {
	ctx, span := sm.tracer.Start(ctx, "assignment.Decline", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	var declined *domain.Task
	err := sm.withTaskLock(ctx, taskID, func(task *domain.Task) error {
		if state := task.State(); state != domain.TaskStateContactedAssigned {
			return fmt.Errorf("cannot decline task %s in state %s: %w", task.ID, state, domain.ErrInvalidTransition)
		}

		businessID := task.AssignedBusinessID
		task.Contacted = false
		task.ContactedAt = nil
		task.AssignedBusinessID = ""
		if err := sm.tasks.Save(ctx, task); err != nil {
			return fmt.Errorf("failed to save declined task %s: %w", task.ID, err)
		}
		declined = task

		if _, err := sm.businesses.ReleaseCapacity(ctx, businessID); err != nil {
			sm.logger.Error("failed to release capacity after decline",
				"task_id", task.ID, "business_id", businessID, "error", err)
		}
		sm.logger.Info("task declined by business", "task_id", task.ID, "business_id", businessID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decline transition failed")
		return declined, err
	}
	return declined, nil
}

// Finalize records the volunteer a business supplied and credits the business
// with a successful assignment.
func (sm *StateMachine) Finalize(ctx context.Context, taskID string, info domain.VolunteerInfo) (*domain.Task, error) {
	ctx, span := sm.tracer.Start(ctx, "assignment.Finalize", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	var finalized *domain.Task
	err := sm.withTaskLock(ctx, taskID, func(task *domain.Task) error {
		if state := task.State(); state != domain.TaskStateContactedAssigned {
			return fmt.Errorf("cannot finalize task %s in state %s: %w", task.ID, state, domain.ErrInvalidTransition)
		}

		task.BusinessVolunteerInfo = &info
		if err := sm.tasks.Save(ctx, task); err != nil {
			return fmt.Errorf("failed to save finalized task %s: %w", task.ID, err)
		}
		finalized = task

		if err := sm.businesses.RecordSuccess(ctx, task.AssignedBusinessID); err != nil {
			return fmt.Errorf("failed to record success on business %s: %w", task.AssignedBusinessID, err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize transition failed")
		return finalized, err
	}
	return finalized, nil
}

// withTaskLock runs fn on a fresh copy of the task while holding its lock.
func (sm *StateMachine) withTaskLock(ctx context.Context, taskID string, fn func(task *domain.Task) error) error {
	lock, err := sm.locker.Lock(ctx, domain.TaskLockName(taskID))
	if err != nil {
		return fmt.Errorf("failed to lock task %s: %w", taskID, err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			sm.logger.Error("failed to unlock task", "task_id", taskID, "error", err)
		}
	}()

	task, err := sm.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return fn(task)
}

// commitContact saves the task as contacted, assigned to business when it is
// not nil. A claim made for a task that cannot be saved is undone, restoring
// previousContact as the business's last contact time.
func (sm *StateMachine) commitContact(ctx context.Context, task *domain.Task, business *domain.Business, previousContact *time.Time, now time.Time) error {
	contactedAt := now
	task.Contacted = true
	task.ContactedAt = &contactedAt
	if business != nil {
		task.AssignedBusinessID = business.ID
	}

	if err := sm.tasks.Save(ctx, task); err != nil {
		if business != nil {
			sm.compensateClaim(ctx, business.ID, previousContact, task.ID)
		}
		return fmt.Errorf("failed to save contacted task %s: %w", task.ID, err)
	}
	return nil
}

// compensateClaim undoes the claim made for a task whose save failed.
func (sm *StateMachine) compensateClaim(ctx context.Context, businessID string, previousContact *time.Time, taskID string) {
	if _, err := sm.businesses.ReleaseClaim(ctx, businessID, previousContact); err != nil {
		sm.logger.Error("failed to release claim after task save failure",
			"task_id", taskID, "business_id", businessID, "error", err)
	}
}

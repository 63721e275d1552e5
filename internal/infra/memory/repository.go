// Package memory provides in-process implementations of the escalation
// repositories for single-node development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"business-escalation/internal/domain"
)

// TaskRepository is a mutex-guarded map of tasks.
type TaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

// NewTaskRepository creates an empty task repository.
func NewTaskRepository() *TaskRepository {
	return &TaskRepository{tasks: make(map[string]*domain.Task)}
}

// Find returns copies of the tasks matching filter, ordered by escalation
// deadline.
func (r *TaskRepository) Find(_ context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Task, 0)
	for _, t := range r.tasks {
		if filter.Matches(t) {
			out = append(out, copyTask(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EscalationDeadline.Equal(out[j].EscalationDeadline) {
			return out[i].EscalationDeadline.Before(out[j].EscalationDeadline)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *TaskRepository) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	tasks, err := r.Find(ctx, filter)
	return len(tasks), err
}

func (r *TaskRepository) Get(_ context.Context, id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return copyTask(t), nil
}

func (r *TaskRepository) Save(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[task.ID] = copyTask(task)
	return nil
}

// BusinessRepository is a mutex-guarded map of businesses. Capacity claims
// are checked and applied under the same lock.
type BusinessRepository struct {
	mu         sync.RWMutex
	businesses map[string]*domain.Business
}

// NewBusinessRepository creates an empty business registry.
func NewBusinessRepository() *BusinessRepository {
	return &BusinessRepository{businesses: make(map[string]*domain.Business)}
}

// Find returns copies of the businesses matching filter, ordered by ID.
func (r *BusinessRepository) Find(_ context.Context, filter domain.BusinessFilter) ([]*domain.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Business, 0)
	for _, b := range r.businesses {
		if filter.Matches(b) {
			out = append(out, copyBusiness(b))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Business) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *BusinessRepository) FindSorted(ctx context.Context, filter domain.BusinessFilter, sortBy domain.BusinessSort) ([]*domain.Business, error) {
	out, err := r.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *domain.Business) int { return domain.CompareBusinesses(sortBy, a, b) })
	return out, nil
}

func (r *BusinessRepository) Get(_ context.Context, id string) (*domain.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.businesses[id]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	return copyBusiness(b), nil
}

func (r *BusinessRepository) Save(_ context.Context, business *domain.Business) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.businesses[business.ID] = copyBusiness(business)
	return nil
}

func (r *BusinessRepository) ClaimCapacity(_ context.Context, id string, now time.Time) (*domain.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.businesses[id]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	if b.CurrentLoad >= b.Capacity {
		return nil, domain.ErrCapacityExhausted
	}
	b.CurrentLoad++
	b.TotalAssigned++
	contacted := now
	b.LastContactedAt = &contacted
	b.UpdatedAt = now
	return copyBusiness(b), nil
}

func (r *BusinessRepository) ReleaseCapacity(_ context.Context, id string) (*domain.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.businesses[id]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	if b.CurrentLoad > 0 {
		b.CurrentLoad--
	}
	return copyBusiness(b), nil
}

func (r *BusinessRepository) ReleaseClaim(_ context.Context, id string, previousContact *time.Time) (*domain.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.businesses[id]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	if b.CurrentLoad > 0 {
		b.CurrentLoad--
	}
	if b.TotalAssigned > 0 {
		b.TotalAssigned--
	}
	b.LastContactedAt = copyTime(previousContact)
	return copyBusiness(b), nil
}

func (r *BusinessRepository) RecordSuccess(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.businesses[id]
	if !ok {
		return domain.ErrBusinessNotFound
	}
	b.SuccessfulAssignments++
	return nil
}

func (r *BusinessRepository) ResetLoad(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.businesses {
		if b.IsActive {
			b.CurrentLoad = 0
			n++
		}
	}
	return n, nil
}

// SweepRepository keeps sweep reports in insertion order.
type SweepRepository struct {
	mu      sync.RWMutex
	reports []*domain.SweepReport
}

// NewSweepRepository creates an empty sweep history.
func NewSweepRepository() *SweepRepository {
	return &SweepRepository{}
}

func (r *SweepRepository) Save(_ context.Context, report *domain.SweepReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *report
	cp.Results = slices.Clone(report.Results)
	for i, existing := range r.reports {
		if existing.ID == report.ID {
			r.reports[i] = &cp
			return nil
		}
	}
	r.reports = append(r.reports, &cp)
	return nil
}

func (r *SweepRepository) List(_ context.Context, page, pageSize int) ([]*domain.SweepReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.SweepReport, 0, pageSize)
	start := (page - 1) * pageSize
	for i := len(r.reports) - 1 - start; i >= 0 && len(out) < pageSize; i-- {
		out = append(out, r.reports[i])
	}
	return out, nil
}

func (r *SweepRepository) Get(_ context.Context, id string) (*domain.SweepReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, report := range r.reports {
		if report.ID == id {
			return report, nil
		}
	}
	return nil, domain.ErrSweepNotFound
}

func copyTask(t *domain.Task) *domain.Task {
	cp := *t
	cp.EndTime = copyTime(t.EndTime)
	cp.ContactedAt = copyTime(t.ContactedAt)
	if t.BusinessVolunteerInfo != nil {
		info := *t.BusinessVolunteerInfo
		cp.BusinessVolunteerInfo = &info
	}
	return &cp
}

func copyBusiness(b *domain.Business) *domain.Business {
	cp := *b
	cp.Services = slices.Clone(b.Services)
	cp.LastContactedAt = copyTime(b.LastContactedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

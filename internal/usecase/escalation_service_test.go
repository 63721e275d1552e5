package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"business-escalation/internal/assignment"
	"business-escalation/internal/domain"
	"business-escalation/internal/geo"
	"business-escalation/internal/infra/local"
	"business-escalation/internal/infra/memory"
	"business-escalation/internal/matching"
	"business-escalation/internal/usecase"
)

// 2026-03-02 is a Monday.
var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

var errStore = errors.New("store unavailable")

type recordingNotifier struct {
	mu       sync.Mutex
	requests []*domain.VolunteerRequest
	err      error
}

func (n *recordingNotifier) SendBusinessVolunteerRequest(_ context.Context, req *domain.VolunteerRequest) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	if n.err != nil {
		return false, n.err
	}
	return true, nil
}

type harness struct {
	tasks      domain.TaskRepository
	businesses domain.BusinessRepository
	sweeps     *memory.SweepRepository
	locker     *local.Locker
	notifier   *recordingNotifier
	sleeps     []time.Duration
	sleepErr   error
}

func newHarness() *harness {
	return &harness{
		tasks:      memory.NewTaskRepository(),
		businesses: memory.NewBusinessRepository(),
		sweeps:     memory.NewSweepRepository(),
		locker:     local.NewLocker(),
		notifier:   &recordingNotifier{},
	}
}

func (h *harness) service() *usecase.EscalationService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }
	matcher := matching.NewMatcher(h.businesses, matching.Options{}, clock, logger)
	machine := assignment.NewStateMachine(h.tasks, h.businesses, h.locker, clock, logger)
	opts := usecase.SweepOptions{
		Pause:  2 * time.Second,
		NodeID: "node-1",
		Now:    clock,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return h.sleepErr
		},
	}
	return usecase.NewEscalationService(h.tasks, h.businesses, h.sweeps, matcher, machine, h.notifier, h.locker, opts, logger)
}

func (h *harness) addTask(t *testing.T, task *domain.Task) {
	t.Helper()
	if err := h.tasks.Save(context.Background(), task); err != nil {
		t.Fatalf("Save task failed: %v", err)
	}
}

func (h *harness) addBusiness(t *testing.T, b *domain.Business) {
	t.Helper()
	if err := h.businesses.Save(context.Background(), b); err != nil {
		t.Fatalf("Save business failed: %v", err)
	}
}

func strandedTask(id string) *domain.Task {
	return &domain.Task{
		ID:                 id,
		Title:              "Help moving boxes",
		Category:           "General",
		Urgency:            domain.UrgencyNormal,
		Location:           geo.Point{Lat: 0, Lng: 0},
		PeopleNeeded:       2,
		Requester:          domain.ContactInfo{Name: "Ada", Email: "ada@example.com"},
		CreatedAt:          now.Add(-25 * time.Hour),
		EscalationDeadline: now.Add(-time.Hour),
	}
}

func partner(id string) *domain.Business {
	return &domain.Business{
		ID:               id,
		Name:             "Partner " + id,
		Email:            id + "@example.com",
		Services:         []string{"General"},
		Location:         geo.Point{Lat: 0, Lng: 0.01},
		CoverageRadiusKm: 5,
		Capacity:         3,
		Reliability:      5,
		OperatingHours:   domain.EveryDay("00:00", "23:59"),
		IsActive:         true,
		CreatedAt:        now.Add(-30 * 24 * time.Hour),
	}
}

func TestRunSweep_SingleEligibleBusiness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.addTask(t, strandedTask("t1"))
	h.addBusiness(t, partner("b1"))

	report, err := h.service().RunSweep(ctx)
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	want := []domain.SweepResult{{TaskID: "t1", BusinessID: "b1", Success: true, Message: domain.MessageContacted}}
	if !slices.Equal(report.Results, want) {
		t.Fatalf("mismatch:\n  got:  %+v\n  want: %+v", report.Results, want)
	}
	if report.Succeeded != 1 || report.Failed != 0 || report.Trigger != domain.TriggerManual {
		t.Errorf("unexpected report totals: %+v", report)
	}

	task, _ := h.tasks.Get(ctx, "t1")
	if !task.Contacted || task.AssignedBusinessID != "b1" {
		t.Errorf("expected task contacted and assigned to b1, got contacted=%v assigned=%q", task.Contacted, task.AssignedBusinessID)
	}
	b, _ := h.businesses.Get(ctx, "b1")
	if b.CurrentLoad != 1 {
		t.Errorf("expected load 1, got %d", b.CurrentLoad)
	}

	if len(h.notifier.requests) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.requests))
	}
	req := h.notifier.requests[0]
	if req.BusinessContact.Email != "b1@example.com" || req.TaskInfo.ID != "t1" || req.CustomerInfo.Name != "Ada" {
		t.Errorf("unexpected volunteer request: %+v", req)
	}
}

func TestRunSweep_NoBusinessOffersCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.addTask(t, strandedTask("t1"))
	other := partner("b1")
	other.Services = []string{"Medical"}
	h.addBusiness(t, other)

	report, err := h.service().RunSweep(ctx)
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	want := []domain.SweepResult{{TaskID: "t1", Success: false, Message: domain.MessageNoMatch}}
	if !slices.Equal(report.Results, want) {
		t.Fatalf("mismatch:\n  got:  %+v\n  want: %+v", report.Results, want)
	}
	task, _ := h.tasks.Get(ctx, "t1")
	if !task.Contacted || task.AssignedBusinessID != "" {
		t.Errorf("expected task contacted without assignment, got contacted=%v assigned=%q", task.Contacted, task.AssignedBusinessID)
	}
	if len(h.notifier.requests) != 0 {
		t.Errorf("expected no notification, got %d", len(h.notifier.requests))
	}

	// The no-match outcome is terminal for the window.
	again, err := h.service().RunSweep(ctx)
	if err != nil {
		t.Fatalf("second RunSweep failed: %v", err)
	}
	if len(again.Results) != 0 {
		t.Errorf("expected no tasks on second sweep, got %+v", again.Results)
	}
}

func TestRunSweep_NeverSelectsFullBusiness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.addTask(t, strandedTask("t1"))
	h.addTask(t, strandedTask("t2"))

	full := partner("a-full")
	full.CurrentLoad = full.Capacity
	spare := partner("b-spare")
	spare.Reliability = 2
	spare.Capacity = 1
	h.addBusiness(t, full)
	h.addBusiness(t, spare)

	report, err := h.service().RunSweep(ctx)
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	want := []domain.SweepResult{
		{TaskID: "t1", BusinessID: "b-spare", Success: true, Message: domain.MessageContacted},
		{TaskID: "t2", Success: false, Message: domain.MessageNoMatch},
	}
	if !slices.Equal(report.Results, want) {
		t.Fatalf("mismatch:\n  got:  %+v\n  want: %+v", report.Results, want)
	}

	stored, _ := h.businesses.Get(ctx, "a-full")
	if stored.CurrentLoad != stored.Capacity || stored.LastContactedAt != nil {
		t.Errorf("full business was modified: %+v", stored)
	}
}

func TestRunSweep_FailureIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.tasks = flakyTasks{TaskRepository: memory.NewTaskRepository(), failGet: "t2-broken"}
	h.businesses = panickyBusinesses{BusinessRepository: memory.NewBusinessRepository(), category: "Explosive"}

	h.addTask(t, strandedTask("t1"))
	h.addTask(t, strandedTask("t2-broken"))
	panics := strandedTask("t3-panics")
	panics.Category = "Explosive"
	h.addTask(t, panics)
	h.addTask(t, strandedTask("t4"))

	// Each contacted business enters its cooldown, so the two healthy tasks
	// need a business each.
	h.addBusiness(t, partner("b1"))
	h.addBusiness(t, partner("b2"))

	report, err := h.service().RunSweep(ctx)
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}
	if report.Succeeded != 2 || report.Failed != 2 {
		t.Fatalf("expected 2 succeeded and 2 failed, got %+v", report.Results)
	}

	byTask := make(map[string]domain.SweepResult)
	for _, res := range report.Results {
		byTask[res.TaskID] = res
	}
	for _, id := range []string{"t1", "t4"} {
		if !byTask[id].Success {
			t.Errorf("expected %s to succeed, got %+v", id, byTask[id])
		}
	}
	for _, id := range []string{"t2-broken", "t3-panics"} {
		if res := byTask[id]; res.Success || res.Message == "" {
			t.Errorf("expected %s to fail with a message, got %+v", id, res)
		}
	}
}

func TestRunSweep_NotifierFailureKeepsAssignment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.notifier.err = errors.New("smtp down")
	h.addTask(t, strandedTask("t1"))
	h.addBusiness(t, partner("b1"))

	report, err := h.service().RunSweep(ctx)
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected success despite notifier failure, got %+v", report.Results)
	}
	task, _ := h.tasks.Get(ctx, "t1")
	if task.AssignedBusinessID != "b1" {
		t.Errorf("expected assignment to be kept, got %q", task.AssignedBusinessID)
	}
}

func TestRunSweep_Throttle(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		tasks       int
		sleepErr    error
		wantSleeps  int
		wantResults int
		wantErr     error
	}{
		"pauses after every five tasks": {
			tasks:       12,
			wantSleeps:  2,
			wantResults: 12,
		},
		"no pause after the last batch": {
			tasks:       5,
			wantSleeps:  0,
			wantResults: 5,
		},
		"cancellation during a pause aborts the sweep": {
			tasks:       12,
			sleepErr:    context.Canceled,
			wantSleeps:  1,
			wantResults: 5,
			wantErr:     context.Canceled,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			h.sleepErr = tt.sleepErr
			for i := range tt.tasks {
				task := strandedTask(string(rune('a' + i)))
				task.Category = "Unserved"
				h.addTask(t, task)
			}

			report, err := h.service().RunSweep(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("mismatch:\n  got:  %v\n  want: %v", err, tt.wantErr)
			}
			if len(h.sleeps) != tt.wantSleeps {
				t.Errorf("expected %d pauses, got %d", tt.wantSleeps, len(h.sleeps))
			}
			for _, d := range h.sleeps {
				if d != 2*time.Second {
					t.Errorf("expected 2s pause, got %v", d)
				}
			}
			if len(report.Results) != tt.wantResults {
				t.Errorf("expected %d results, got %d", tt.wantResults, len(report.Results))
			}
		})
	}
}

func TestRunSweep_SingleFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	lock, err := h.locker.Lock(ctx, domain.SweepLockName)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	svc := h.service()
	if _, err := svc.RunSweep(ctx); !errors.Is(err, domain.ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}

	_ = lock.Unlock(ctx)
	if _, err := svc.RunSweep(ctx); err != nil {
		t.Fatalf("RunSweep after unlock failed: %v", err)
	}
}

func TestRunSweep_TaskQueryFailureAborts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.tasks = failingFindTasks{TaskRepository: memory.NewTaskRepository()}

	svc := h.service()
	if _, err := svc.RunScheduledSweep(ctx); !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}

	reports, err := svc.ListSweeps(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListSweeps failed: %v", err)
	}
	if len(reports) != 1 || reports[0].Error == "" || reports[0].Trigger != domain.TriggerScheduled {
		t.Errorf("expected one failed scheduled report, got %+v", reports)
	}
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.addTask(t, strandedTask("t1"))
	h.addTask(t, strandedTask("t2"))
	notYet := strandedTask("t3")
	notYet.EscalationDeadline = now.Add(time.Hour)
	h.addTask(t, notYet)

	fast := partner("fast")
	fast.AvgResponseTimeHours = 1
	fast.TotalAssigned = 4
	fast.SuccessfulAssignments = 4
	slow := partner("slow")
	slow.AvgResponseTimeHours = 3
	slow.TotalAssigned = 2
	slow.SuccessfulAssignments = 1
	fresh := partner("fresh")
	inactive := partner("inactive")
	inactive.IsActive = false
	for _, b := range []*domain.Business{fast, slow, fresh, inactive} {
		h.addBusiness(t, b)
	}

	stats, err := h.service().GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	want := domain.Stats{
		TasksAwaitingBusinessContact: 2,
		BusinessesActive:             3,
		AverageResponseTime:          2,
		SuccessRate:                  75,
	}
	if *stats != want {
		t.Errorf("mismatch:\n  got:  %+v\n  want: %+v", *stats, want)
	}
}

func TestResetDailyLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	busy := partner("busy")
	busy.CurrentLoad = 3
	inactive := partner("inactive")
	inactive.IsActive = false
	inactive.CurrentLoad = 2
	h.addBusiness(t, busy)
	h.addBusiness(t, inactive)

	svc := h.service()
	for range 2 {
		n, err := svc.ResetDailyLoad(ctx)
		if err != nil {
			t.Fatalf("ResetDailyLoad failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 business reset, got %d", n)
		}
	}

	b, _ := h.businesses.Get(ctx, "busy")
	if b.CurrentLoad != 0 {
		t.Errorf("expected load 0, got %d", b.CurrentLoad)
	}
	in, _ := h.businesses.Get(ctx, "inactive")
	if in.CurrentLoad != 2 {
		t.Errorf("expected inactive business untouched, got %d", in.CurrentLoad)
	}
}

func TestDeclineThenResweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.addTask(t, strandedTask("t1"))
	h.addBusiness(t, partner("b1"))
	svc := h.service()

	if _, err := svc.RunSweep(ctx); err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}
	task, err := svc.DeclineTask(ctx, "t1")
	if err != nil {
		t.Fatalf("DeclineTask failed: %v", err)
	}
	if task.State() != domain.TaskStateOpen {
		t.Fatalf("expected open task after decline, got %s", task.State())
	}
	b, _ := h.businesses.Get(ctx, "b1")
	if b.CurrentLoad != 0 {
		t.Errorf("expected load 0 after decline, got %d", b.CurrentLoad)
	}

	// b1 is still inside its cooldown, so the re-sweep finds nobody.
	report, err := svc.RunSweep(ctx)
	if err != nil {
		t.Fatalf("second RunSweep failed: %v", err)
	}
	want := []domain.SweepResult{{TaskID: "t1", Message: domain.MessageNoMatch}}
	if !slices.Equal(report.Results, want) {
		t.Errorf("mismatch:\n  got:  %+v\n  want: %+v", report.Results, want)
	}
}

func TestCanBusinessHandle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	h.addBusiness(t, partner("b1"))
	svc := h.service()

	tests := map[string]struct {
		businessID string
		category   string
		lat, lng   float64
		want       bool
		wantErr    error
	}{
		"eligible":         {businessID: "b1", category: "General", want: true},
		"category missing": {businessID: "b1", category: "Medical", want: false},
		"outside coverage": {businessID: "b1", category: "General", lat: 1, want: false},
		"unknown business": {businessID: "nope", category: "General", wantErr: domain.ErrBusinessNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := svc.CanBusinessHandle(ctx, tt.businessID, tt.category, tt.lat, tt.lng)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("mismatch:\n  got:  %v\n  want: %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}

func TestSaveBusiness_KeepsEngineCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	stored := partner("b1")
	stored.CurrentLoad = 2
	stored.TotalAssigned = 7
	h.addBusiness(t, stored)

	update := partner("b1")
	update.Name = "Renamed"
	if err := h.service().SaveBusiness(ctx, update); err != nil {
		t.Fatalf("SaveBusiness failed: %v", err)
	}

	got, _ := h.businesses.Get(ctx, "b1")
	if got.Name != "Renamed" || got.CurrentLoad != 2 || got.TotalAssigned != 7 {
		t.Errorf("unexpected business after upsert: %+v", got)
	}
	if !got.CreatedAt.Equal(stored.CreatedAt) || !got.UpdatedAt.Equal(now) {
		t.Errorf("unexpected timestamps: created %v updated %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestSaveTask_DerivesDeadline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	task := &domain.Task{
		ID:       "t1",
		Category: "General",
		Urgency:  domain.UrgencyEmergency,
		Location: geo.Point{Lat: 1, Lng: 1},
	}
	if err := h.service().SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	got, _ := h.tasks.Get(ctx, "t1")
	if want := now.Add(time.Hour); !got.EscalationDeadline.Equal(want) {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", got.EscalationDeadline, want)
	}
}

func TestSaveTask_KeepsContactFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	contactedAt := now.Add(-time.Hour)
	if err := h.tasks.Save(ctx, &domain.Task{
		ID:                 "t1",
		Category:           "General",
		Location:           geo.Point{Lat: 1, Lng: 1},
		EscalationDeadline: now.Add(-2 * time.Hour),
		Contacted:          true,
		ContactedAt:        &contactedAt,
		AssignedBusinessID: "b1",
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	update := &domain.Task{ID: "t1", Title: "Renamed", Category: "General", Location: geo.Point{Lat: 1, Lng: 1}}
	if err := h.service().SaveTask(ctx, update); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, _ := h.tasks.Get(ctx, "t1")
	if got.Title != "Renamed" {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", got.Title, "Renamed")
	}
	if got.State() != domain.TaskStateContactedAssigned || got.AssignedBusinessID != "b1" {
		t.Errorf("upsert changed the escalation state: %v assigned to %q", got.State(), got.AssignedBusinessID)
	}
}

func TestSaveTask_UpdateKeepsDeadline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	created := now.Add(-25 * time.Hour)

	tests := map[string]struct {
		urgency      domain.Urgency
		wantDeadline time.Time
	}{
		"same urgency keeps the stored deadline": {
			urgency:      domain.UrgencyNormal,
			wantDeadline: now.Add(-time.Hour),
		},
		"new urgency counts from the stored creation time": {
			urgency:      domain.UrgencyEmergency,
			wantDeadline: created.Add(time.Hour),
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			h.addTask(t, strandedTask("t1"))
			h.addBusiness(t, partner("b1"))

			update := &domain.Task{
				ID:       "t1",
				Title:    "Help moving more boxes",
				Category: "General",
				Urgency:  tt.urgency,
				Location: geo.Point{Lat: 0, Lng: 0},
			}
			if err := h.service().SaveTask(ctx, update); err != nil {
				t.Fatalf("SaveTask failed: %v", err)
			}

			got, _ := h.tasks.Get(ctx, "t1")
			if !got.CreatedAt.Equal(created) {
				t.Errorf("created at mismatch:\n  got:  %v\n  want: %v", got.CreatedAt, created)
			}
			if !got.EscalationDeadline.Equal(tt.wantDeadline) {
				t.Errorf("deadline mismatch:\n  got:  %v\n  want: %v", got.EscalationDeadline, tt.wantDeadline)
			}

			report, err := h.service().RunSweep(ctx)
			if err != nil {
				t.Fatalf("RunSweep failed: %v", err)
			}
			want := []domain.SweepResult{{TaskID: "t1", BusinessID: "b1", Success: true, Message: domain.MessageContacted}}
			if !slices.Equal(report.Results, want) {
				t.Errorf("mismatch:\n  got:  %+v\n  want: %+v", report.Results, want)
			}
		})
	}
}

type flakyTasks struct {
	*memory.TaskRepository
	failGet string
}

func (f flakyTasks) Get(ctx context.Context, id string) (*domain.Task, error) {
	if id == f.failGet {
		return nil, errStore
	}
	return f.TaskRepository.Get(ctx, id)
}

type failingFindTasks struct {
	*memory.TaskRepository
}

func (failingFindTasks) Find(context.Context, domain.TaskFilter) ([]*domain.Task, error) {
	return nil, errStore
}

type panickyBusinesses struct {
	*memory.BusinessRepository
	category string
}

func (p panickyBusinesses) Find(ctx context.Context, filter domain.BusinessFilter) ([]*domain.Business, error) {
	if filter.Category == p.category {
		panic("registry exploded")
	}
	return p.BusinessRepository.Find(ctx, filter)
}

package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"business-escalation/internal/domain"
	"business-escalation/internal/geo"
)

func TestEscalationDeadline(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	tests := map[string]struct {
		urgency domain.Urgency
		want    time.Duration
	}{
		"emergency waits one hour":    {urgency: domain.UrgencyEmergency, want: time.Hour},
		"urgent waits four hours":     {urgency: domain.UrgencyUrgent, want: 4 * time.Hour},
		"normal waits a day":          {urgency: domain.UrgencyNormal, want: 24 * time.Hour},
		"unknown falls back to a day": {urgency: domain.Urgency("whenever"), want: 24 * time.Hour},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := domain.EscalationDeadline(createdAt, tt.urgency)
			if want := createdAt.Add(tt.want); !got.Equal(want) {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, want)
			}
		})
	}
}

func TestTask_State(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := map[string]struct {
		task domain.Task
		want domain.TaskState
	}{
		"not contacted": {
			task: domain.Task{},
			want: domain.TaskStateOpen,
		},
		"contacted without match": {
			task: domain.Task{Contacted: true, ContactedAt: &now},
			want: domain.TaskStateContactedNoMatch,
		},
		"contacted and assigned": {
			task: domain.Task{Contacted: true, ContactedAt: &now, AssignedBusinessID: "b1"},
			want: domain.TaskStateContactedAssigned,
		},
		"volunteer supplied": {
			task: domain.Task{Contacted: true, AssignedBusinessID: "b1", BusinessVolunteerInfo: &domain.VolunteerInfo{Name: "Sam"}},
			want: domain.TaskStateFinalized,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := tt.task.State(); got != tt.want {
				t.Errorf("mismatch:\n  got:  %q\n  want: %q", got, tt.want)
			}
		})
	}
}

func TestTask_EligibleForEscalation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := map[string]struct {
		task domain.Task
		want bool
	}{
		"deadline passed":        {task: domain.Task{EscalationDeadline: past}, want: true},
		"deadline exactly now":   {task: domain.Task{EscalationDeadline: now}, want: true},
		"deadline in the future": {task: domain.Task{EscalationDeadline: future}, want: false},
		"volunteer accepted":     {task: domain.Task{EscalationDeadline: past, AcceptedVolunteerCount: 1}, want: false},
		"already contacted":      {task: domain.Task{EscalationDeadline: past, Contacted: true}, want: false},
		"ended":                  {task: domain.Task{EscalationDeadline: past, EndTime: &past}, want: false},
		"ends exactly now":       {task: domain.Task{EscalationDeadline: past, EndTime: &now}, want: false},
		"ends later":             {task: domain.Task{EscalationDeadline: past, EndTime: &future}, want: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if got := tt.task.EligibleForEscalation(now); got != tt.want {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
			if got := domain.EscalationFilter(now).Matches(&tt.task); got != tt.want {
				t.Errorf("filter mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}

func TestBusiness_CanHandleTask(t *testing.T) {
	t.Parallel()

	base := func() domain.Business {
		return domain.Business{
			ID:               "b1",
			Services:         []string{"General", "Transport"},
			Location:         geo.Point{Lat: 0, Lng: 0.01},
			CoverageRadiusKm: 5,
			Capacity:         3,
			IsActive:         true,
		}
	}

	tests := map[string]struct {
		mutate   func(b *domain.Business)
		category string
		lat, lng float64
		want     bool
	}{
		"eligible": {
			category: "General",
			want:     true,
		},
		"category not offered": {
			category: "Medical",
			want:     false,
		},
		"category not offered even when close with capacity": {
			mutate:   func(b *domain.Business) { b.Capacity = 100; b.CoverageRadiusKm = 1000 },
			category: "Medical",
			want:     false,
		},
		"inactive": {
			mutate:   func(b *domain.Business) { b.IsActive = false },
			category: "General",
			want:     false,
		},
		"at capacity": {
			mutate:   func(b *domain.Business) { b.CurrentLoad = 3 },
			category: "General",
			want:     false,
		},
		"outside radius": {
			category: "General",
			lat:      1,
			want:     false,
		},
		"exactly at the radius": {
			mutate:   func(b *domain.Business) { b.CoverageRadiusKm = geo.DistanceKm(b.Location, geo.Point{}) },
			category: "General",
			want:     true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := base()
			if tt.mutate != nil {
				tt.mutate(&b)
			}
			if got := b.CanHandleTask(tt.category, tt.lat, tt.lng); got != tt.want {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}

func TestResolveTimezone(t *testing.T) {
	t.Parallel()

	first, err := domain.ResolveTimezone("Europe/Berlin")
	if err != nil {
		t.Fatalf("ResolveTimezone failed: %v", err)
	}
	second, err := domain.ResolveTimezone("Europe/Berlin")
	if err != nil {
		t.Fatalf("ResolveTimezone failed: %v", err)
	}
	if first != second {
		t.Error("expected the second lookup to reuse the loaded location")
	}
	if first.String() != "Europe/Berlin" {
		t.Errorf("mismatch:\n  got:  %v\n  want: %v", first.String(), "Europe/Berlin")
	}

	if _, err := domain.ResolveTimezone("Mars/Olympus_Mons"); err == nil {
		t.Error("expected an error for an unknown timezone")
	}
}

func TestBusiness_IsOpenNow(t *testing.T) {
	t.Parallel()

	// 2026-03-02 is a Monday.
	monday := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

	var hours domain.WeeklyHours
	hours[time.Monday] = domain.DayHours{Open: "09:00", Close: "17:00", IsOpen: true}
	hours[time.Tuesday] = domain.DayHours{Open: "00:00", Close: "23:59", IsOpen: false}

	tests := map[string]struct {
		now      time.Time
		timezone string
		want     bool
	}{
		"inside the window":   {now: monday(12, 0), want: true},
		"at opening time":     {now: monday(9, 0), want: true},
		"at closing time":     {now: monday(17, 0), want: true},
		"one minute too late": {now: monday(17, 1), want: false},
		"before opening":      {now: monday(8, 59), want: false},
		"closed day":          {now: monday(12, 0).AddDate(0, 0, 1), want: false},
		"unset day":           {now: monday(12, 0).AddDate(0, 0, 2), want: false},
		"converted to business timezone": {
			// 07:30 UTC is 09:30 in Johannesburg (UTC+2, no DST).
			now:      monday(7, 30),
			timezone: "Africa/Johannesburg",
			want:     true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := domain.Business{OperatingHours: hours, Timezone: tt.timezone}
			if got := b.IsOpenNow(tt.now); got != tt.want {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}

func TestWeeklyHours_JSON(t *testing.T) {
	t.Parallel()

	in := `{"monday":{"open":"08:00","close":"18:00","is_open":true},"Sunday":{"open":"10:00","close":"12:00","is_open":true}}`

	var w domain.WeeklyHours
	if err := json.Unmarshal([]byte(in), &w); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := w.On(time.Monday); got.Open != "08:00" || got.Close != "18:00" || !got.IsOpen {
		t.Errorf("unexpected monday hours: %+v", got)
	}
	if got := w.On(time.Sunday); got.Open != "10:00" || !got.IsOpen {
		t.Errorf("unexpected sunday hours: %+v", got)
	}
	if w.On(time.Friday).IsOpen {
		t.Error("expected friday to be closed")
	}

	if err := json.Unmarshal([]byte(`{"someday":{}}`), &w); err == nil {
		t.Error("expected an error for an unknown weekday")
	}
}

func TestBusinessFilter_Matches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	old := now.Add(-3 * time.Hour)
	boundary := now.Add(-2 * time.Hour)
	filter := domain.BusinessFilter{
		ActiveOnly:      true,
		Category:        "General",
		HasCapacity:     true,
		ContactedBefore: now.Add(-2 * time.Hour),
	}

	tests := map[string]struct {
		business domain.Business
		want     bool
	}{
		"never contacted": {
			business: domain.Business{IsActive: true, Services: []string{"General"}, Capacity: 1},
			want:     true,
		},
		"contacted long ago": {
			business: domain.Business{IsActive: true, Services: []string{"General"}, Capacity: 1, LastContactedAt: &old},
			want:     true,
		},
		"contacted exactly one cooldown ago": {
			business: domain.Business{IsActive: true, Services: []string{"General"}, Capacity: 1, LastContactedAt: &boundary},
			want:     true,
		},
		"contacted within cooldown": {
			business: domain.Business{IsActive: true, Services: []string{"General"}, Capacity: 1, LastContactedAt: &recent},
			want:     false,
		},
		"full": {
			business: domain.Business{IsActive: true, Services: []string{"General"}, Capacity: 1, CurrentLoad: 1},
			want:     false,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := filter.Matches(&tt.business); got != tt.want {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}

// internal/domain/business.go
package domain

import (
	"fmt"
	"slices"
	"sync"
	"time"
	_ "time/tzdata"

	"business-escalation/internal/geo"
)

// Business is a partner that can supply a substitute volunteer when no
// volunteer accepted a task in time.
type Business struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ContactPerson string   `json:"contact_person,omitempty"`
	Email         string   `json:"email,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Services      []string `json:"services"`

	Location         geo.Point `json:"location"`
	CoverageRadiusKm float64   `json:"coverage_radius_km"`

	Capacity    int `json:"capacity"`
	CurrentLoad int `json:"current_load"`

	Reliability          float64 `json:"reliability"`
	AvgResponseTimeHours float64 `json:"avg_response_time_hours"`

	OperatingHours WeeklyHours `json:"operating_hours"`
	// Timezone is an IANA zone name for OperatingHours. Empty means the
	// location of the time passed to IsOpenNow.
	Timezone string `json:"timezone,omitempty"`

	LastContactedAt       *time.Time `json:"last_contacted_at,omitempty"`
	IsActive              bool       `json:"is_active"`
	TotalAssigned         int        `json:"total_assigned"`
	SuccessfulAssignments int        `json:"successful_assignments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Offers reports whether the business lists category among its services.
func (b *Business) Offers(category string) bool {
	return slices.Contains(b.Services, category)
}

// HasCapacity reports whether another assignment fits under Capacity.
func (b *Business) HasCapacity() bool {
	return b.CurrentLoad < b.Capacity
}

// CanHandleTask reports whether the business could take a task of category at
// (lat, lng): active, offers the category, has spare capacity and covers the
// location.
func (b *Business) CanHandleTask(category string, lat, lng float64) bool {
	return b.IsActive &&
		b.Offers(category) &&
		b.HasCapacity() &&
		geo.DistanceKm(b.Location, geo.Point{Lat: lat, Lng: lng}) <= b.CoverageRadiusKm
}

// IsOpenNow reports whether now falls within the business's hours for that
// weekday.
func (b *Business) IsOpenNow(now time.Time) bool {
	if b.Timezone != "" {
		if loc, err := ResolveTimezone(b.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	return b.OperatingHours.On(now.Weekday()).Contains(now.Format("15:04"))
}

var timezones sync.Map

// ResolveTimezone loads an IANA location once and serves later lookups of the
// same name from memory. Failed lookups are not cached.
func ResolveTimezone(name string) (*time.Location, error) {
	if loc, ok := timezones.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	actual, _ := timezones.LoadOrStore(name, loc)
	return actual.(*time.Location), nil
}

// CooledDown reports whether at least cooldown has elapsed since the business
// was last contacted.
func (b *Business) CooledDown(now time.Time, cooldown time.Duration) bool {
	return b.LastContactedAt == nil || !b.LastContactedAt.After(now.Add(-cooldown))
}

// SuccessRate is the percentage of assignments the business fulfilled.
func (b *Business) SuccessRate() float64 {
	if b.TotalAssigned == 0 {
		return 0
	}
	return float64(b.SuccessfulAssignments) / float64(b.TotalAssigned) * 100
}

// Validate checks a business record before it is saved to the registry.
func (b *Business) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("business id cannot be empty")
	}
	if b.Capacity < 0 {
		return fmt.Errorf("business %s has negative capacity", b.ID)
	}
	if b.CurrentLoad < 0 {
		return fmt.Errorf("business %s has negative current load", b.ID)
	}
	if b.Reliability != 0 && (b.Reliability < 1 || b.Reliability > 5) {
		return fmt.Errorf("business %s reliability %.2f outside 1.0-5.0", b.ID, b.Reliability)
	}
	if !b.Location.Valid() {
		return fmt.Errorf("business %s has an invalid location", b.ID)
	}
	if b.Timezone != "" {
		if _, err := ResolveTimezone(b.Timezone); err != nil {
			return fmt.Errorf("business %s has unknown timezone %q: %w", b.ID, b.Timezone, err)
		}
	}
	return nil
}

// BusinessFilter selects businesses from a BusinessRepository. Zero values
// disable a clause.
type BusinessFilter struct {
	ActiveOnly  bool
	Category    string
	HasCapacity bool
	// ContactedBefore matches businesses never contacted or last contacted at
	// or before it.
	ContactedBefore time.Time
	// MinTotalAssigned matches businesses with TotalAssigned >= it.
	MinTotalAssigned int
}

// Matches evaluates the filter against a business in memory.
func (f BusinessFilter) Matches(b *Business) bool {
	if f.ActiveOnly && !b.IsActive {
		return false
	}
	if f.Category != "" && !b.Offers(f.Category) {
		return false
	}
	if f.HasCapacity && !b.HasCapacity() {
		return false
	}
	if !f.ContactedBefore.IsZero() && b.LastContactedAt != nil && b.LastContactedAt.After(f.ContactedBefore) {
		return false
	}
	if f.MinTotalAssigned > 0 && b.TotalAssigned < f.MinTotalAssigned {
		return false
	}
	return true
}

// BusinessSort orders the result of BusinessRepository.FindSorted.
type BusinessSort string

const (
	// SortByReliability orders by reliability descending, then average
	// response time ascending.
	SortByReliability BusinessSort = "reliability"
)

// CompareBusinesses is the in-memory comparator for a BusinessSort.
func CompareBusinesses(sort BusinessSort, a, b *Business) int {
	switch sort {
	case SortByReliability:
		if a.Reliability != b.Reliability {
			if a.Reliability > b.Reliability {
				return -1
			}
			return 1
		}
		if a.AvgResponseTimeHours != b.AvgResponseTimeHours {
			if a.AvgResponseTimeHours < b.AvgResponseTimeHours {
				return -1
			}
			return 1
		}
	}
	return 0
}

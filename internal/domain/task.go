// internal/domain/task.go
package domain

import (
	"errors"
	"fmt"
	"time"

	"business-escalation/internal/geo"
)

var (
	// ErrAlreadyContacted is returned when a task was contacted by another
	// sweep or trigger between discovery and transition.
	ErrAlreadyContacted = errors.New("task already contacted")
	// ErrInvalidTransition is returned when a transition does not apply to the
	// task's current state.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Urgency scales how long a task may wait for a volunteer before escalation.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// EscalationWindow returns how long a task of this urgency waits before it is
// escalated to a business partner. Unknown values fall back to the normal window.
func (u Urgency) EscalationWindow() time.Duration {
	switch u {
	case UrgencyEmergency:
		return time.Hour
	case UrgencyUrgent:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// EscalationDeadline is the moment a task created at createdAt becomes
// eligible for escalation.
func EscalationDeadline(createdAt time.Time, urgency Urgency) time.Time {
	return createdAt.Add(urgency.EscalationWindow())
}

// TaskState is the escalation state derived from a task's contact fields.
type TaskState string

const (
	TaskStateOpen              TaskState = "open"
	TaskStateContactedNoMatch  TaskState = "contacted_no_match"
	TaskStateContactedAssigned TaskState = "contacted_assigned"
	TaskStateFinalized         TaskState = "finalized"
)

// ContactInfo identifies a person who can be reached about a task.
type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// VolunteerInfo describes the substitute volunteer a business supplied.
type VolunteerInfo struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	ETA   string `json:"eta,omitempty"`
}

// Task is a request for help. The escalation engine only reads and mutates the
// fields that drive business contact; everything else belongs to the platform.
type Task struct {
	ID                     string      `json:"id"`
	Title                  string      `json:"title"`
	Description            string      `json:"description,omitempty"`
	Category               string      `json:"category"`
	Urgency                Urgency     `json:"urgency"`
	Location               geo.Point   `json:"location"`
	PeopleNeeded           int         `json:"people_needed"`
	AcceptedVolunteerCount int         `json:"accepted_volunteer_count"`
	Requester              ContactInfo `json:"requester"`

	CreatedAt          time.Time  `json:"created_at"`
	EscalationDeadline time.Time  `json:"escalation_deadline"`
	EndTime            *time.Time `json:"end_time,omitempty"`

	Contacted             bool           `json:"contacted"`
	ContactedAt           *time.Time     `json:"contacted_at,omitempty"`
	AssignedBusinessID    string         `json:"assigned_business_id,omitempty"`
	BusinessVolunteerInfo *VolunteerInfo `json:"business_volunteer_info,omitempty"`
}

// State derives the escalation state from the contact fields.
func (t *Task) State() TaskState {
	switch {
	case !t.Contacted:
		return TaskStateOpen
	case t.AssignedBusinessID == "":
		return TaskStateContactedNoMatch
	case t.BusinessVolunteerInfo != nil:
		return TaskStateFinalized
	default:
		return TaskStateContactedAssigned
	}
}

// EligibleForEscalation reports whether the sweep should contact a business
// for this task at now.
func (t *Task) EligibleForEscalation(now time.Time) bool {
	if t.Contacted || t.AcceptedVolunteerCount != 0 {
		return false
	}
	if t.EscalationDeadline.After(now) {
		return false
	}
	return t.EndTime == nil || t.EndTime.After(now)
}

// Validate checks the fields the escalation engine depends on.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id cannot be empty")
	}
	if t.Category == "" {
		return fmt.Errorf("task %s has no category", t.ID)
	}
	if !t.Location.Valid() {
		return fmt.Errorf("task %s has an invalid location (%f, %f)", t.ID, t.Location.Lat, t.Location.Lng)
	}
	if t.AssignedBusinessID != "" && !t.Contacted {
		return fmt.Errorf("task %s is assigned to business %s but not marked contacted", t.ID, t.AssignedBusinessID)
	}
	return nil
}

// TaskFilter selects tasks from a TaskRepository. Zero values disable a clause.
type TaskFilter struct {
	// DeadlineBefore matches tasks whose escalation deadline is at or before it.
	DeadlineBefore time.Time
	// NoAcceptedVolunteers matches tasks with AcceptedVolunteerCount == 0.
	NoAcceptedVolunteers bool
	// NotContacted matches tasks with Contacted == false.
	NotContacted bool
	// ActiveAt matches tasks without an end time or whose end time is after it.
	ActiveAt time.Time
	// AssignedBusinessID matches tasks assigned to the given business.
	AssignedBusinessID string
}

// EscalationFilter is the filter a sweep uses to discover stranded tasks.
func EscalationFilter(now time.Time) TaskFilter {
	return TaskFilter{
		DeadlineBefore:       now,
		NoAcceptedVolunteers: true,
		NotContacted:         true,
		ActiveAt:             now,
	}
}

// Matches evaluates the filter against a task in memory.
func (f TaskFilter) Matches(t *Task) bool {
	if !f.DeadlineBefore.IsZero() && t.EscalationDeadline.After(f.DeadlineBefore) {
		return false
	}
	if f.NoAcceptedVolunteers && t.AcceptedVolunteerCount != 0 {
		return false
	}
	if f.NotContacted && t.Contacted {
		return false
	}
	if !f.ActiveAt.IsZero() && t.EndTime != nil && !t.EndTime.After(f.ActiveAt) {
		return false
	}
	if f.AssignedBusinessID != "" && t.AssignedBusinessID != f.AssignedBusinessID {
		return false
	}
	return true
}

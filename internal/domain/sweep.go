// internal/domain/sweep.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSweepInProgress is returned when a sweep is requested while another
	// one is still running.
	ErrSweepInProgress = errors.New("escalation sweep already in progress")
	// ErrSweepNotFound is returned when a sweep report does not exist.
	ErrSweepNotFound = errors.New("sweep report not found")
)

// Sweep triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Outcome messages recorded on a SweepResult.
const (
	MessageContacted = "Business contacted successfully"
	MessageNoMatch   = "No suitable businesses found in the area"
)

// SweepResult is the outcome of processing one task during a sweep.
type SweepResult struct {
	TaskID     string `json:"task_id"`
	BusinessID string `json:"business_id,omitempty"` // empty when no business was contacted
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// SweepReport represents a single pass of the escalation sweep.
type SweepReport struct {
	ID         string        `json:"id"`
	NodeID     string        `json:"node_id,omitempty"`
	Trigger    string        `json:"trigger"` // "scheduled" or "manual"
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []SweepResult `json:"results"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"` // set when the sweep itself could not run
}

// Add appends a result and updates the aggregate counts.
func (r *SweepReport) Add(res SweepResult) {
	r.Results = append(r.Results, res)
	if res.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// Validate checks if the sweep report is valid.
func (r *SweepReport) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("sweep report ID cannot be empty")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("sweep report start time cannot be zero")
	}
	return nil
}

// Stats is the rollup returned by the escalation service.
type Stats struct {
	TasksAwaitingBusinessContact int     `json:"tasks_awaiting_business_contact"`
	BusinessesActive             int     `json:"businesses_active"`
	AverageResponseTime          float64 `json:"average_response_time"`
	SuccessRate                  float64 `json:"success_rate"`
}

// SweepRepository persists sweep reports for later inspection.
type SweepRepository interface {
	Save(ctx context.Context, report *SweepReport) error
	// List returns reports newest first.
	List(ctx context.Context, page, pageSize int) ([]*SweepReport, error)
	Get(ctx context.Context, id string) (*SweepReport, error)
}

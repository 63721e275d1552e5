// Package matching selects the business best suited to take over a stranded
// task.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"business-escalation/internal/domain"
	"business-escalation/internal/geo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultCooldown             = 2 * time.Hour
	DefaultReliabilityThreshold = 0.5
	DefaultDistanceThresholdKm  = 2.0
)

// Options tunes the filter and ranking stages.
type Options struct {
	// Cooldown is the minimum time since a business was last contacted.
	Cooldown time.Duration
	// ReliabilityThreshold is the smallest reliability gap that decides the order.
	ReliabilityThreshold float64
	// DistanceThresholdKm is the smallest distance gap that decides the order.
	DistanceThresholdKm float64
}

func (o Options) withDefaults() Options {
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.ReliabilityThreshold <= 0 {
		o.ReliabilityThreshold = DefaultReliabilityThreshold
	}
	if o.DistanceThresholdKm <= 0 {
		o.DistanceThresholdKm = DefaultDistanceThresholdKm
	}
	return o
}

// Candidate is a business that passed the filter stage for a task.
type Candidate struct {
	Business   *domain.Business
	DistanceKm float64
	OpenNow    bool
}

// Matcher filters and ranks businesses for a task.
type Matcher struct {
	businesses domain.BusinessRepository
	opts       Options
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewMatcher creates a Matcher reading from the given registry. now may be nil,
// in which case time.Now is used.
func NewMatcher(businesses domain.BusinessRepository, opts Options, now func() time.Time, logger *slog.Logger) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{
		businesses: businesses,
		opts:       opts.withDefaults(),
		now:        now,
		logger:     logger.With("component", "matcher"),
		tracer:     otel.Tracer("business-escalation-matching"),
	}
}

// Candidates returns the eligible businesses for task, best first. An empty
// slice means no suitable business was found.
func (m *Matcher) Candidates(ctx context.Context, task *domain.Task) ([]Candidate, error) {
	ctx, span := m.tracer.Start(ctx, "matching.Candidates", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.category", task.Category),
	))
	defer span.End()

	now := m.now()
	businesses, err := m.businesses.Find(ctx, domain.BusinessFilter{
		ActiveOnly:      true,
		Category:        task.Category,
		HasCapacity:     true,
		ContactedBefore: now.Add(-m.opts.Cooldown),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query business registry")
		return nil, fmt.Errorf("failed to find businesses for task %s: %w", task.ID, err)
	}

	candidates := Filter(businesses, task, now, m.opts.Cooldown)
	Rank(candidates, m.opts)

	span.SetAttributes(
		attribute.Int("businesses.queried", len(businesses)),
		attribute.Int("candidates", len(candidates)),
	)
	m.logger.Debug("ranked candidates", "task_id", task.ID, "queried", len(businesses), "candidates", len(candidates))
	return candidates, nil
}

// Best returns the top ranked candidate for task, or nil when there is none.
func (m *Matcher) Best(ctx context.Context, task *domain.Task) (*Candidate, error) {
	candidates, err := m.Candidates(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// Filter keeps the businesses that can handle task and are outside the
// contact cooldown. Registry filters are not trusted to be exact, so every
// rule is evaluated again here.
func Filter(businesses []*domain.Business, task *domain.Task, now time.Time, cooldown time.Duration) []Candidate {
	candidates := make([]Candidate, 0, len(businesses))
	for _, b := range businesses {
		if !b.CanHandleTask(task.Category, task.Location.Lat, task.Location.Lng) {
			continue
		}
		if !b.CooledDown(now, cooldown) {
			continue
		}
		candidates = append(candidates, Candidate{
			Business:   b,
			DistanceKm: geo.DistanceKm(b.Location, task.Location),
			OpenNow:    b.IsOpenNow(now),
		})
	}
	return candidates
}

// Rank sorts candidates in place, best first. The sort is stable so equal
// candidates keep the registry order.
func Rank(candidates []Candidate, opts Options) {
	opts = opts.withDefaults()
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return compare(a, b, opts)
	})
}

func compare(a, b Candidate, opts Options) int {
	if a.OpenNow != b.OpenNow {
		if a.OpenNow {
			return -1
		}
		return 1
	}

	if diff := a.Business.Reliability - b.Business.Reliability; math.Abs(diff) > opts.ReliabilityThreshold {
		if diff > 0 {
			return -1
		}
		return 1
	}

	if diff := a.DistanceKm - b.DistanceKm; math.Abs(diff) > opts.DistanceThresholdKm {
		if diff < 0 {
			return -1
		}
		return 1
	}

	return compareLastContacted(a.Business.LastContactedAt, b.Business.LastContactedAt)
}

// compareLastContacted orders least recently contacted first; never contacted
// sorts before everything else.
func compareLastContacted(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

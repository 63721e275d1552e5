// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests by path, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// SweepsTotal counts escalation sweeps by status (completed/failed/skipped).
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_sweeps_total",
			Help: "Total number of escalation sweeps.",
		},
		[]string{"status"},
	)

	// TaskResultsTotal counts per-task sweep outcomes (contacted/no_match/failed).
	TaskResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_task_results_total",
			Help: "Total number of tasks processed by escalation sweeps, by outcome.",
		},
		[]string{"outcome"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escalation_sweep_duration_seconds",
			Help:    "Duration of escalation sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	BusinessContactsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "business_contacts_total",
			Help: "Total number of volunteer requests sent to business partners.",
		},
	)

	// NotifierDeliveriesTotal counts deliveries on notifier nodes by mode and status.
	NotifierDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Total number of volunteer request deliveries.",
		},
		[]string{"mode", "status"},
	)

	// IsLeader is 1 on the node currently running scheduled sweeps.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)

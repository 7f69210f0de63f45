// Package monitor exposes the operational view of the pipeline:
// prometheus collectors fed by the orchestrator and worker pools, and
// lane depth gauges refreshed from the transport and job store.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docgateway_jobs_submitted_total",
			Help: "Total number of documents accepted for processing",
		},
	)

	JobsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docgateway_jobs_completed_total",
			Help: "Total number of jobs that reached COMPLETED",
		},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgateway_jobs_failed_total",
			Help: "Total number of jobs that reached terminal FAILED",
		},
		[]string{"lane"},
	)

	RetriesScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgateway_retries_scheduled_total",
			Help: "Total number of stage executions scheduled for retry",
		},
		[]string{"lane"},
	)

	StaleOutcomesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docgateway_stale_outcomes_total",
			Help: "Duplicate or out-of-date outcome reports ignored",
		},
	)

	DiscardedClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgateway_discarded_claims_total",
			Help: "Deliveries acknowledged without executing because the job was not claimable",
		},
		[]string{"lane"},
	)

	LaneDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docgateway_lane_depth",
			Help: "Ready messages per lane",
		},
		[]string{"lane"},
	)

	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docgateway_jobs_in_flight",
			Help: "Jobs currently RUNNING per lane",
		},
		[]string{"lane"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docgateway_stage_duration_seconds",
			Help:    "Wall-clock duration of stage executions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"lane", "outcome"},
	)
)

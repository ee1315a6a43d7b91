// internal/common/metrics/metrics.go
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	AllocationStepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_steps_executed_total",
			Help: "Allocation pipeline steps executed",
		},
		[]string{"step"},
	)

	AllocationRowsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_rows_removed_total",
			Help: "Application rows removed from the working set",
		},
		[]string{"step"},
	)

	AllocationIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allocation_workflow_iterations",
			Help:    "Iterations needed for an allocation run to reach its fixed point",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	AllocationCyclesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_cycles_resolved_total",
			Help: "Acceptance cycles found by step 6, by outcome",
		},
		[]string{"outcome"},
	)

	NominationsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allocation_nominations_published_total",
			Help: "Nomination documents written to the search index",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_notifications_sent_total",
			Help: "Student notifications sent, by channel",
		},
		[]string{"channel"},
	)
)

// StepOutcome is the part of an executed step the counters need.
type StepOutcome struct {
	Step     int
	Removed  int
	Outcomes []string
}

// RecordStep updates the allocation counters for one executed step.
func RecordStep(o StepOutcome) {
	step := strconv.Itoa(o.Step)
	AllocationStepsExecuted.WithLabelValues(step).Inc()
	if o.Removed > 0 {
		AllocationRowsRemoved.WithLabelValues(step).Add(float64(o.Removed))
	}
	for _, outcome := range o.Outcomes {
		AllocationCyclesResolved.WithLabelValues(outcome).Inc()
	}
}

// RecordRunFinished observes the iteration count of a finished run.
func RecordRunFinished(iterations int) {
	AllocationIterations.Observe(float64(iterations))
}

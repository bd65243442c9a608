package enrollment

import (
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymops",
			Name:      "enrollment_commits_total",
			Help:      "Order commits by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gymops",
			Name:      "enrollment_commit_duration_seconds",
			Help:      "Wall time of a commit run, including step retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	StepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymops",
			Name:      "enrollment_step_failures_total",
			Help:      "Commit steps that exhausted their retries, by step and error kind.",
		},
		[]string{"step", "error_kind"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymops",
			Name:      "enrollment_retries_total",
			Help:      "Commit retries (manual and reconciler) by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(CommitsTotal, CommitDuration, StepFailuresTotal, RetriesTotal)
}

// observeCommit starts timing a commit and returns the func recording its outcome.
func observeCommit(kind Kind) func(*Commit, error) {
	start := time.Now()
	return func(c *Commit, err error) {
		CommitDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		outcome := "completed"
		switch {
		case c != nil && err != nil:
			outcome = string(c.Status)
		case err != nil:
			outcome = "rejected_" + string(failure.KindOf(err))
		}
		CommitsTotal.WithLabelValues(string(kind), outcome).Inc()
	}
}

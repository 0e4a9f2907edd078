package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for scheduled briefings.
type Metrics struct {
	JobsFired     prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsSkipped   prometheus.Counter
	RunDuration   prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "astro",
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		JobsFired:     counter("jobs_fired_total", "Total scheduled crew runs started."),
		JobsSucceeded: counter("jobs_succeeded_total", "Total scheduled crew runs that completed."),
		JobsFailed:    counter("jobs_failed_total", "Total scheduled crew runs that failed."),
		JobsSkipped:   counter("jobs_skipped_total", "Total scheduled runs skipped at the concurrency limit."),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "astro",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled crew runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}

	reg.MustRegister(
		m.JobsFired,
		m.JobsSucceeded,
		m.JobsFailed,
		m.JobsSkipped,
		m.RunDuration,
	)

	return m
}

package service

import "github.com/prometheus/client_golang/prometheus"

var (
	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "completiond",
			Subsystem: "service",
			Name:      "completions_total",
			Help:      "Completion requests by outcome (ok, error, busy)",
		},
		[]string{"service", "task", "outcome"},
	)

	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "completiond",
			Subsystem: "service",
			Name:      "completion_duration_seconds",
			Help:      "Time spent in the pipeline per completion",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "task"},
	)

	constructFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "completiond",
			Subsystem: "service",
			Name:      "construct_failures_total",
			Help:      "Services whose pipeline could not be constructed",
		},
		[]string{"service", "runtime"},
	)
)

func init() {
	prometheus.MustRegister(completionsTotal, completionDuration, constructFailures)
}

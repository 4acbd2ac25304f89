// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gradegate"

// Metrics instruments worker pools and validation runs. All operations are
// thread-safe via Prometheus's internal locking; every method tolerates a
// nil receiver so instrumentation stays optional.
type Metrics struct {
	// TasksSubmittedTotal counts submissions by pool.
	TasksSubmittedTotal *prometheus.CounterVec

	// CallerRunsTotal counts backpressure events: tasks executed on the
	// submitting goroutine because the pool was saturated.
	CallerRunsTotal *prometheus.CounterVec

	// TaskDurationSeconds measures task execution time by pool.
	TaskDurationSeconds *prometheus.HistogramVec

	// ValidationsTotal counts completed sub-validations by type and status.
	ValidationsTotal *prometheus.CounterVec

	// QualityScore observes final aggregate quality scores.
	QualityScore prometheus.Histogram
}

// NewMetrics creates and registers the runner metrics.
//
// Inputs:
//
//	reg - Target registry. Tests pass a fresh prometheus.NewRegistry() to
//	avoid duplicate-registration panics; production passes
//	prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "tasks_submitted_total",
			Help:      "Tasks submitted to a worker pool.",
		}, []string{"pool"}),
		CallerRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "caller_runs_total",
			Help:      "Tasks executed on the caller due to pool saturation.",
		}, []string{"pool"}),
		TaskDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "validation",
			Name:      "runs_total",
			Help:      "Completed sub-validations by type and status.",
		}, []string{"type", "status"}),
		QualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "validation",
			Name:      "quality_score",
			Help:      "Aggregate quality scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
	}
	reg.MustRegister(
		m.TasksSubmittedTotal,
		m.CallerRunsTotal,
		m.TaskDurationSeconds,
		m.ValidationsTotal,
		m.QualityScore,
	)
	return m
}

func (m *Metrics) incSubmitted(pool string) {
	if m == nil {
		return
	}
	m.TasksSubmittedTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) incCallerRuns(pool string) {
	if m == nil {
		return
	}
	m.CallerRunsTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) observeTask(pool string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDurationSeconds.WithLabelValues(pool).Observe(d.Seconds())
}

func (m *Metrics) observeValidation(vtype, status string, score int, aggregate bool) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(vtype, status).Inc()
	if aggregate {
		m.QualityScore.Observe(float64(score))
	}
}

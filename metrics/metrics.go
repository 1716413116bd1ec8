// Package metrics provides execution counters and timings for pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives execution measurements from the engine
type Collector interface {
	// StageExecuted records one handler invocation (including retries) for a stage
	StageExecuted(stageID string, duration time.Duration, success bool)
	// RunCompleted records a finished run with its terminal status
	RunCompleted(pipelineID, status string, duration time.Duration)
}

// NopCollector discards all measurements
type NopCollector struct{}

func (NopCollector) StageExecuted(stageID string, duration time.Duration, success bool) {}

func (NopCollector) RunCompleted(pipelineID, status string, duration time.Duration) {}

// PromCollector exposes engine measurements as Prometheus metrics
type PromCollector struct {
	stageExecutions *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// NewPromCollector creates and registers the collectors on reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewPromCollector(reg prometheus.Registerer) *PromCollector {
	c := &PromCollector{
		stageExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftflow_stage_executions_total",
				Help: "Total number of stage handler executions",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "draftflow_stage_duration_seconds",
				Help: "Duration of stage handler executions",
			},
			[]string{"stage"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftflow_runs_total",
				Help: "Total number of completed pipeline runs",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "draftflow_run_duration_seconds",
				Help:    "Duration of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"pipeline"},
		),
	}

	reg.MustRegister(c.stageExecutions, c.stageDuration, c.runs, c.runDuration)
	return c
}

// StageExecuted implements Collector
func (c *PromCollector) StageExecuted(stageID string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.stageExecutions.WithLabelValues(stageID, outcome).Inc()
	c.stageDuration.WithLabelValues(stageID).Observe(duration.Seconds())
}

// RunCompleted implements Collector
func (c *PromCollector) RunCompleted(pipelineID, status string, duration time.Duration) {
	c.runs.WithLabelValues(pipelineID, status).Inc()
	c.runDuration.WithLabelValues(pipelineID).Observe(duration.Seconds())
}

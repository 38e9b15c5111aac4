// Package metrics exposes Prometheus collectors for workflow runs, steps and
// the REST surface.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

const namespace = "archi"

// Collector owns a private registry so tests and multiple daemons in one
// process never collide on the default registerer.
type Collector struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	steps       *prometheus.CounterVec
	attempts    prometheus.Histogram
	retries     prometheus.Counter

	requests        *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector builds the collectors. active reports the number of running
// workflows and may be nil.
func NewCollector(active func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "runs_total",
			Help: "Workflow runs that reached a terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "run_duration_seconds",
			Help:    "Wall-clock duration of workflow runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "steps_total",
			Help: "Step results by action type and outcome.",
		}, []string{"action_type", "outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "step_attempts",
			Help:    "Attempts used by executed steps.",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "failed_attempts_total",
			Help: "Failed action attempts across all runs.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_errors_total",
			Help: "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}

	c.registry.MustRegister(
		c.runs, c.runDuration, c.steps, c.attempts, c.retries,
		c.requests, c.requestErrors, c.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if active != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "active_runs",
			Help: "Workflows currently registered as running.",
		}, func() float64 { return float64(active()) }))
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStep implements workflow.StepObserver.
func (c *Collector) ObserveStep(_ context.Context, _ *workflow.RunContext, res workflow.StepResult) {
	outcome := "success"
	switch {
	case res.Attempt == 0:
		outcome = workflow.DependencyNotMet
	case !res.Success:
		outcome = "failure"
	}
	c.steps.WithLabelValues(res.ActionType, outcome).Inc()
	if res.Attempt > 0 {
		c.attempts.Observe(float64(res.Attempt))
	}
}

// ObserveRun implements workflow.RunObserver.
func (c *Collector) ObserveRun(_ context.Context, _ *workflow.RunContext, result *workflow.Result) {
	status := string(result.Status)
	c.runs.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(result.ExecutionTime)
	c.retries.Add(float64(result.RetryAttempts))
}

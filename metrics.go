package ensemble

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ensemble"

// Task result label values, as recorded in ensemble_tasks_finished_total.
const (
	resultOK         = "ok"
	resultError      = "error"
	resultPanic      = "panic"
	resultNotStarted = "not_started"
)

// Run outcome label values, as recorded in ensemble_runs_total. Runs that did not fail use
// Outcome.String().
const outcomeFailed = "failed"

// Metrics holds the Prometheus collectors updated by an [Orchestrator].
//
// A nil *Metrics is valid, and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	tasksStarted  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	tasksRunning  prometheus.Gauge
	tasksOrphaned prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Total number of finished runs, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Time from the start of a run until its outcome was decided.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_started_total",
			Help:      "Total number of tasks that started running.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks that returned, by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_running",
			Help:      "Number of tasks currently running, including orphaned ones.",
		}),
		tasksOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_orphaned_total",
			Help:      "Total number of tasks still running when their run was cancelled.",
		}),
	}

	collectors := []prometheus.Collector{
		m.runs, m.runDuration, m.tasksStarted, m.tasksFinished, m.tasksRunning, m.tasksOrphaned,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
	m.tasksRunning.Inc()
}

func (m *Metrics) taskFinished(err error) {
	if m == nil {
		return
	}
	result := taskResult(err)
	if result != resultNotStarted {
		m.tasksRunning.Dec()
	}
	m.tasksFinished.WithLabelValues(result).Inc()
}

func (m *Metrics) runFinished(outcome string, elapsed time.Duration, orphaned int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	m.tasksOrphaned.Add(float64(orphaned))
}

func taskResult(err error) string {
	var panicErr *PanicError
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrNotStarted):
		return resultNotStarted
	case errors.As(err, &panicErr):
		return resultPanic
	default:
		return resultError
	}
}

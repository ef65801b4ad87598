package ensemble

import (
	"io"
	"log/slog"
	"math"
)

type orchestratorOptions struct {
	interrupt      InterruptSource
	logger         *slog.Logger
	metrics        *Metrics
	maxConcurrency int
}

func defaultOrchestratorOptions() *orchestratorOptions {
	return &orchestratorOptions{
		interrupt:      OSInterrupt(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		metrics:        nil, // no metrics
		maxConcurrency: 0,   // unlimited
	}
}

// Option configures an [Orchestrator].
type Option func(*orchestratorOptions)

func buildOrchestratorOptions(opts ...Option) *orchestratorOptions {
	options := defaultOrchestratorOptions()
	for _, fn := range opts {
		if fn != nil {
			fn(options)
		}
	}
	return options
}

// WithInterruptSource sets where cancellation requests come from. Default is [OSInterrupt] with no
// arguments, i.e. Ctrl+C or SIGTERM.
func WithInterruptSource(src InterruptSource) Option {
	if src == nil {
		panic("ensemble: nil interrupt source")
	}

	return func(o *orchestratorOptions) {
		o.interrupt = src
	}
}

// WithLogger sets the logger for the Orchestrator. Default discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *orchestratorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets where run and task metrics are recorded. Default is to not record any.
func WithMetrics(m *Metrics) Option {
	return func(o *orchestratorOptions) {
		o.metrics = m
	}
}

// WithMaxConcurrency limits how many tasks of a single run can execute at the same time. Tasks
// beyond the limit wait for a free slot; if the run is cancelled first, they never start and are
// recorded with [ErrNotStarted].
//
// 0 means unlimited, which is the default.
func WithMaxConcurrency(limit int) Option {
	if limit < 0 {
		panic("ensemble: max concurrency cannot be negative")
	}

	return func(o *orchestratorOptions) {
		o.maxConcurrency = limit
	}
}

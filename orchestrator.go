package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
)

// Orchestrator runs fixed sets of tasks to completion, unless an external interrupt asks for them
// to stop first.
//
// An Orchestrator holds only configuration; each call to [Orchestrator.Run] is independent, with
// its own [Signal] and [TaskGroup].
type Orchestrator struct {
	options *orchestratorOptions
}

// New creates a new Orchestrator.
//
// Options can be provided to customize behavior:
//   - WithInterruptSource: where cancellation requests come from (default: Ctrl+C / SIGTERM)
//   - WithLogger: structured logger for run and task events
//   - WithMetrics: Prometheus collectors to update
//   - WithMaxConcurrency: limit on tasks executing at once
func New(opts ...Option) *Orchestrator {
	return &Orchestrator{options: buildOrchestratorOptions(opts...)}
}

// Run starts every task concurrently and waits for whichever happens first:
//
//   - every task returns, giving [AllCompleted]; or
//   - the interrupt source fires, or ctx is canceled, giving [CancelRequested].
//
// On cancellation, the run's Signal is triggered so cooperative tasks can stop, but Run does not
// wait for any of them: tasks still running are listed in Report.Orphaned and keep going on their
// own. Tasks that ignore their [Listener] always run to completion, possibly after Run has
// returned.
//
// Task failures are recorded in the Report and never cause Run to return an error. Run only fails
// if a task has no Workload (before any task is started), or if the interrupt source fails; the
// latter wraps [ErrInterruptUnavailable]. When the interrupt source fails, the Signal is not
// triggered.
func (o *Orchestrator) Run(ctx context.Context, tasks ...Task) (Report, error) {
	start := time.Now()
	report := Report{RunID: ulid.Make().String()}
	log := o.options.logger.With(slog.String("run_id", report.RunID))

	for _, t := range tasks {
		if t.Run == nil {
			return report, fmt.Errorf("task %q: %w", t.Name, ErrNilTask)
		}
	}

	signal := NewSignal()
	group := NewTaskGroup(report.RunID)

	var sem *semaphore.Weighted
	if o.options.maxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(o.options.maxConcurrency))
	}

	// set once the run has been cancelled, so that tasks finishing afterwards are logged as orphans
	var cancelled atomic.Bool

	log.Info("starting run", slog.Int("tasks", len(tasks)))
	for _, t := range tasks {
		h, err := group.Go(t.Name, o.wrapTask(t, signal, sem, log))
		if err != nil {
			panic(fmt.Sprintf("internal error: failed to start task %q: %s", t.Name, err))
		}
		go o.observe(h, &cancelled, log)
	}
	group.Close()

	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		for _, h := range group.Handles() {
			<-h.Done()
		}
	}()

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	watchResult := make(chan error, 1)
	go func() {
		watchResult <- o.options.interrupt.Wait(watchCtx)
	}()

	select {
	case <-allDone:
		report.Outcome = AllCompleted
		log.Info("all tasks completed")

	case err := <-watchResult:
		switch {
		case err == nil:
			log.Info("cancellation signal sent")
		case ctx.Err() != nil:
			log.Info("run context canceled", slog.Any("cause", context.Cause(ctx)))
		default:
			return o.fail(report, start, err, log)
		}

		// the outcome is decided before any task can observe the signal
		signal.Trigger()
		report.Outcome = CancelRequested
	}

	report.Elapsed = time.Since(start)
	for _, h := range group.Handles() {
		if h.Finished() {
			report.Results = append(report.Results, TaskResult{Name: h.Name(), Err: h.Err(), Elapsed: h.Elapsed()})
		} else {
			report.Orphaned = append(report.Orphaned, h.Name())
		}
	}
	if report.Outcome == CancelRequested {
		cancelled.Store(true)
	}

	o.options.metrics.runFinished(report.Outcome.String(), report.Elapsed, len(report.Orphaned))
	log.Info("run finished",
		slog.String("outcome", report.Outcome.String()),
		slog.Duration("elapsed", report.Elapsed),
		slog.Any("orphaned", report.Orphaned),
	)
	return report, nil
}

func (o *Orchestrator) fail(report Report, start time.Time, err error, log *slog.Logger) (Report, error) {
	if !errors.Is(err, ErrInterruptUnavailable) {
		err = fmt.Errorf("%w: %w", ErrInterruptUnavailable, err)
	}

	report.Elapsed = time.Since(start)
	o.options.metrics.runFinished(outcomeFailed, report.Elapsed, 0)
	log.Error("waiting for interrupt failed", slog.Any("error", err))
	return report, err
}

// wrapTask returns the function run on the task's goroutine.
func (o *Orchestrator) wrapTask(t Task, signal *Signal, sem *semaphore.Weighted, log *slog.Logger) func() error {
	return func() error {
		if sem != nil {
			ctx, cancel := signal.Context(context.Background())
			err := sem.Acquire(ctx, 1)
			cancel()
			if err != nil {
				return ErrNotStarted
			}
			defer sem.Release(1)

			// Acquire may succeed even though the signal was already triggered
			if signal.Triggered() {
				return ErrNotStarted
			}
		}

		o.options.metrics.taskStarted()
		log.Debug("task started", slog.String("task", t.Name))
		return t.Run(signal.Listener())
	}
}

// observe logs and records the result of the task once it returns.
func (o *Orchestrator) observe(h *Handle, cancelled *atomic.Bool, log *slog.Logger) {
	<-h.Done()

	err := h.Err()
	o.options.metrics.taskFinished(err)

	log = log.With(slog.String("task", h.Name()), slog.Duration("elapsed", h.Elapsed()))
	if cancelled.Load() {
		log = log.With(slog.Bool("orphaned", true))
	}

	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
		log.Error("task panicked", slog.Any("error", err), slog.String("stack", panicErr.Stack.String()))
	case errors.Is(err, ErrNotStarted):
		log.Info("task not started")
	case err != nil:
		log.Warn("task failed", slog.Any("error", err))
	default:
		log.Debug("task finished")
	}
}

package ensemble

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotStarted is the error recorded for a task that was still waiting for a free slot (see
// [WithMaxConcurrency]) when its run was cancelled. Such tasks never run.
var ErrNotStarted = errors.New("ensemble: task not started before cancellation")

// Workload is a unit of work run as a task by an [Orchestrator].
//
// Cooperative workloads should watch the Listener and return early once it is triggered, without
// performing any further side effects. Returning early because of cancellation is a normal path,
// and should return nil.
//
// Workloads that ignore the Listener can't be stopped: they always run to completion, even after
// the run they belong to has been cancelled and has returned. See [Detached].
type Workload func(Listener) error

// Detached adapts fn, which has no way to observe cancellation, into a [Workload].
//
// Once started, a detached task always runs to completion.
func Detached(fn func() error) Workload {
	return func(Listener) error {
		return fn()
	}
}

// Task is a named [Workload].
type Task struct {
	Name string
	Run  Workload
}

// Outcome is the way a single [Orchestrator.Run] ended.
type Outcome int

const (
	// AllCompleted means that every task returned before any cancellation was requested.
	AllCompleted Outcome = iota + 1
	// CancelRequested means that the interrupt source fired (or the run's context was canceled)
	// before every task returned.
	CancelRequested
)

func (o Outcome) String() string {
	switch o {
	case AllCompleted:
		return "completed"
	case CancelRequested:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// TaskResult is the result of a single task that had returned by the time its run ended.
type TaskResult struct {
	Name    string
	Err     error
	Elapsed time.Duration
}

// Report describes the end of a run.
type Report struct {
	// RunID uniquely identifies the run, and is attached to all of its log lines.
	RunID   string
	Outcome Outcome
	Elapsed time.Duration
	// Results holds one entry per task that had returned when the outcome was decided, in the order
	// the tasks were given.
	Results []TaskResult
	// Orphaned holds the names of tasks still running when the outcome was decided. It is always
	// empty if Outcome is AllCompleted.
	Orphaned []string
}

// Err joins the errors of all failed tasks in r.Results, or returns nil if there were none.
//
// Task failures never change the Outcome.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

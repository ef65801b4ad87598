package ensemble_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/sharnoff/ensemble"
)

// recorder keeps an ordered log of events from concurrently running tasks
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) has(event string) bool {
	return slices.Contains(r.snapshot(), event)
}

// delayTask logs its start, waits for delay, and logs its completion. If cooperative, it stops
// waiting (and doesn't log completion) once its Listener is triggered.
func delayTask(rec *recorder, name string, delay time.Duration, cooperative bool) ensemble.Task {
	return ensemble.Task{
		Name: name,
		Run: func(l ensemble.Listener) error {
			rec.add("%s started", name)
			if cooperative {
				select {
				case <-l.Done():
					rec.add("%s canceled", name)
					return nil
				case <-time.After(delay):
				}
			} else {
				time.Sleep(delay)
			}
			rec.add("%s completed", name)
			return nil
		},
	}
}

func resultNames(r ensemble.Report) []string {
	var names []string
	for _, res := range r.Results {
		names = append(names, res.Name)
	}
	return names
}

func TestOrchestratorAllCompleted(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	delay := 100 * time.Millisecond

	// never triggered
	interrupt := ensemble.NewSignal()
	o := ensemble.New(ensemble.WithInterruptSource(interrupt))

	report, err := o.Run(context.Background(),
		delayTask(rec, "config", delay, false),
		delayTask(rec, "metrics", delay, true),
		delayTask(rec, "scan", delay, false),
	)
	require.NoError(t, err)

	assert.Equal(t, ensemble.AllCompleted, report.Outcome)
	assert.NotEmpty(t, report.RunID)
	assert.GreaterOrEqual(t, report.Elapsed, delay)
	assert.Less(t, report.Elapsed, delay+time.Second, "tasks should run concurrently")
	assert.Empty(t, report.Orphaned)
	assert.Equal(t, []string{"config", "metrics", "scan"}, resultNames(report))
	assert.NoError(t, report.Err())

	events := rec.snapshot()
	assert.Len(t, events, 6)
	for _, name := range []string{"config", "metrics", "scan"} {
		started := slices.Index(events, name+" started")
		completed := slices.Index(events, name+" completed")
		require.NotEqual(t, -1, started, "missing start for %s", name)
		require.NotEqual(t, -1, completed, "missing completion for %s", name)
		assert.Less(t, started, completed, "%s completed before it started", name)
	}
}

func TestOrchestratorCancelRequested(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	delay := 500 * time.Millisecond

	interrupt := ensemble.NewSignal()
	time.AfterFunc(50*time.Millisecond, interrupt.Trigger)

	o := ensemble.New(ensemble.WithInterruptSource(interrupt))
	report, err := o.Run(context.Background(),
		delayTask(rec, "config", delay, false),
		delayTask(rec, "metrics", delay, true),
		delayTask(rec, "scan", delay, false),
	)
	require.NoError(t, err)

	assert.Equal(t, ensemble.CancelRequested, report.Outcome)
	assert.Less(t, report.Elapsed, delay, "must not wait for non-cooperative tasks")
	assert.Subset(t, report.Orphaned, []string{"config", "scan"})

	// nothing has completed yet
	for _, name := range []string{"config", "metrics", "scan"} {
		assert.True(t, rec.has(name+" started"), "%s never started", name)
		assert.False(t, rec.has(name+" completed"), "%s completed before Run returned", name)
	}

	// The orphans still finish on their own
	require.Eventually(t, func() bool {
		return rec.has("config completed") && rec.has("scan completed")
	}, 2*time.Second, 10*time.Millisecond)

	// ... but the cooperative task never does its post-delay work
	assert.True(t, rec.has("metrics canceled"))
	assert.False(t, rec.has("metrics completed"))
}

func TestOrchestratorCooperativeTaskWithTriggeredSignal(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	sig := ensemble.NewSignal()
	sig.Trigger()

	task := delayTask(rec, "metrics", time.Hour, true)
	require.NoError(t, task.Run(sig.Listener()))

	assert.Equal(t, []string{"metrics started", "metrics canceled"}, rec.snapshot())
}

func TestOrchestratorInterruptUnavailable(t *testing.T) {
	t.Parallel()

	installErr := errors.New("signal handling not supported")
	var observedCancel atomic.Bool
	finished := make(chan struct{})

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.InterruptFunc(func(context.Context) error {
		return installErr
	})))

	report, err := o.Run(context.Background(), ensemble.Task{
		Name: "watcher",
		Run: func(l ensemble.Listener) error {
			defer close(finished)
			select {
			case <-l.Done():
				observedCancel.Store(true)
			case <-time.After(100 * time.Millisecond):
			}
			return nil
		},
	})

	require.ErrorIs(t, err, ensemble.ErrInterruptUnavailable)
	require.ErrorIs(t, err, installErr)
	assert.Zero(t, report.Outcome)

	<-finished
	assert.False(t, observedCancel.Load(), "signal must not be triggered when the interrupt source fails")
}

func TestOrchestratorOSInterruptUnavailable(t *testing.T) {
	t.Parallel()

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.OSInterrupt(nil)))
	_, err := o.Run(context.Background(), delayTask(&recorder{}, "task", 200*time.Millisecond, false))

	require.ErrorIs(t, err, ensemble.ErrInterruptUnavailable)
	assert.Equal(t, 1, countSubstring(err.Error(), ensemble.ErrInterruptUnavailable.Error()), "must not be wrapped twice: %s", err)
}

func countSubstring(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i += 1 {
		if s[i:i+len(sub)] == sub {
			count += 1
		}
	}
	return count
}

func TestOrchestratorContextCanceled(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.Never()))
	report, err := o.Run(ctx, delayTask(rec, "metrics", time.Hour, true))
	require.NoError(t, err)
	assert.Equal(t, ensemble.CancelRequested, report.Outcome)

	require.Eventually(t, func() bool { return rec.has("metrics canceled") }, time.Second, time.Millisecond)
}

func TestOrchestratorTaskFailures(t *testing.T) {
	t.Parallel()

	testErr := errors.New("test")

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.Never()))
	report, err := o.Run(context.Background(),
		ensemble.Task{Name: "ok", Run: ensemble.Detached(func() error { return nil })},
		ensemble.Task{Name: "fails", Run: ensemble.Detached(func() error { return testErr })},
		ensemble.Task{Name: "panics", Run: func(ensemble.Listener) error { panic("oh no") }},
	)
	require.NoError(t, err, "task failures must not fail the run")
	assert.Equal(t, ensemble.AllCompleted, report.Outcome)

	require.Len(t, report.Results, 3)
	assert.NoError(t, report.Results[0].Err)
	assert.ErrorIs(t, report.Results[1].Err, testErr)
	var panicErr *ensemble.PanicError
	assert.ErrorAs(t, report.Results[2].Err, &panicErr)

	joined := report.Err()
	assert.ErrorIs(t, joined, testErr)
	assert.ErrorAs(t, joined, &panicErr)
	assert.Contains(t, joined.Error(), `task "fails": test`)
}

func TestOrchestratorNilWorkload(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	o := ensemble.New(ensemble.WithInterruptSource(ensemble.Never()))
	_, err := o.Run(context.Background(),
		delayTask(rec, "fine", time.Millisecond, false),
		ensemble.Task{Name: "broken"},
	)
	require.ErrorIs(t, err, ensemble.ErrNilTask)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "no task may start if any is invalid")
}

func TestOrchestratorNoTasks(t *testing.T) {
	t.Parallel()

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.Never()))
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ensemble.AllCompleted, report.Outcome)
	assert.Empty(t, report.Results)
}

func TestOrchestratorIndependentRuns(t *testing.T) {
	t.Parallel()

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.Never()))
	task := ensemble.Task{Name: "noop", Run: ensemble.Detached(func() error { return nil })}

	r1, err := o.Run(context.Background(), task)
	require.NoError(t, err)
	r2, err := o.Run(context.Background(), task)
	require.NoError(t, err)

	assert.NotEqual(t, r1.RunID, r2.RunID)
}

func TestOrchestratorMaxConcurrency(t *testing.T) {
	t.Parallel()

	var running, maxRunning atomic.Int32
	task := func(name string) ensemble.Task {
		return ensemble.Task{Name: name, Run: ensemble.Detached(func() error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		})}
	}

	o := ensemble.New(ensemble.WithInterruptSource(ensemble.Never()), ensemble.WithMaxConcurrency(2))
	report, err := o.Run(context.Background(), task("a"), task("b"), task("c"), task("d"), task("e"))
	require.NoError(t, err)
	assert.Equal(t, ensemble.AllCompleted, report.Outcome)
	assert.NoError(t, report.Err())
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestOrchestratorQueuedTasksNeverStartAfterCancel(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	interrupt := ensemble.NewSignal()
	time.AfterFunc(30*time.Millisecond, interrupt.Trigger)

	o := ensemble.New(ensemble.WithInterruptSource(interrupt), ensemble.WithMaxConcurrency(1))
	report, err := o.Run(context.Background(),
		delayTask(rec, "first", time.Hour, true),
		delayTask(rec, "second", time.Hour, true),
		delayTask(rec, "third", time.Hour, true),
	)
	require.NoError(t, err)
	assert.Equal(t, ensemble.CancelRequested, report.Outcome)

	require.Eventually(t, func() bool { return rec.has("first canceled") }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, rec.has("second started"))
	assert.False(t, rec.has("third started"))
}

func TestWithMaxConcurrencyNegativePanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { ensemble.WithMaxConcurrency(-1) })
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "completed", ensemble.AllCompleted.String())
	assert.Equal(t, "cancelled", ensemble.CancelRequested.String())
	assert.Equal(t, "Outcome(0)", ensemble.Outcome(0).String())
}

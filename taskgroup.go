package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrGroupClosed is returned by [TaskGroup.Go] once [TaskGroup.Close] has been called.
	ErrGroupClosed = errors.New("ensemble: task group is closed")

	// ErrNilTask is returned by [TaskGroup.Go] when the task function is nil.
	ErrNilTask = errors.New("ensemble: nil task")
)

// TaskGroup provides [sync.WaitGroup]-like functionality for a fixed set of tasks, with the
// following changes:
//
//  1. Tasks are named, and started by the TaskGroup itself with [TaskGroup.Go]
//  2. Each task gets a [Handle], so its completion can be observed on its own
//  3. [TaskGroup.Wait] returns a channel, so it can be selected over
//  4. Membership is closed: once [TaskGroup.Close] is called, no more tasks can be started
//  5. The set of running tasks can be fetched with [TaskGroup.Tasks]
//
// TaskGroup never interrupts its tasks. Stopping them early is up to the tasks themselves,
// typically by watching a [Listener].
type TaskGroup struct {
	mu      sync.Mutex
	name    string
	closed  bool
	count   uint
	allDone chan struct{}
	tasks   map[string]uint
	handles []*Handle
}

// Handle is a reference to a single task started by [TaskGroup.Go].
type Handle struct {
	name    string
	started time.Time

	done chan struct{}
	// err and elapsed are written once, before done is closed
	err     error
	elapsed time.Duration
}

// TaskInfo returns information about a set of running tasks with a particular name.
//
// Instances of TaskInfo are produced by [TaskGroup.Tasks].
type TaskInfo struct {
	Name string `json:"name"`
	// Count provides the number of running tasks named Name. Count is never zero when returned by
	// [TaskGroup.Tasks].
	Count uint `json:"count"`
}

// NewTaskGroup creates a new TaskGroup with the given name
func NewTaskGroup(name string) *TaskGroup {
	return &TaskGroup{
		name:  name,
		tasks: make(map[string]uint),
	}
}

// Name returns the name of the TaskGroup, as constructed via [NewTaskGroup].
func (g *TaskGroup) Name() string {
	return g.name
}

// Go starts fn on a new goroutine as a task with the given name, returning its Handle. Names need
// not be unique.
//
// If fn panics, the panic is recovered and recorded as the task's error, as a *[PanicError].
//
// Go returns [ErrGroupClosed] if the TaskGroup has been closed, and [ErrNilTask] if fn is nil.
func (g *TaskGroup) Go(name string, fn func() error) (*Handle, error) {
	if fn == nil {
		return nil, ErrNilTask
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGroupClosed
	}

	h := &Handle{
		name:    name,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	g.handles = append(g.handles, h)
	g.count += 1
	g.tasks[name] += 1

	spawnedAt := GetStackTrace(nil, 1)
	go func() {
		defer g.done(h)
		h.err = runTask(name, fn, &spawnedAt)
	}()

	return h, nil
}

func runTask(name string, fn func() error, spawnedAt *StackTrace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Task:  name,
				Value: r,
				// skip the deferred func and runtime.gopanic
				Stack: GetStackTrace(spawnedAt, 2),
			}
		}
	}()

	return fn()
}

func (g *TaskGroup) done(h *Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// closed while holding the lock, so that the group's state is never behind its handles
	h.elapsed = time.Since(h.started)
	close(h.done)

	c := g.tasks[h.name]
	if c == 0 {
		panic(fmt.Sprintf("internal error: zero remaining tasks with name %q", h.name))
	}
	if c == 1 {
		delete(g.tasks, h.name)
	} else {
		g.tasks[h.name] = c - 1
	}

	g.count -= 1
	g.rectify()
}

// Close seals the TaskGroup: later calls to [TaskGroup.Go] fail with [ErrGroupClosed]. Close is
// idempotent.
//
// Waiting on the TaskGroup only completes after it has been closed.
func (g *TaskGroup) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.rectify()
}

func (g *TaskGroup) rectify() {
	if g.closed && g.count == 0 && g.allDone != nil {
		close(g.allDone)
		g.allDone = nil
	}
}

// Wait returns a channel that is closed once the TaskGroup is closed and all of its tasks have
// returned.
func (g *TaskGroup) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed && g.count == 0 {
		return alwaysClosed
	}

	if g.allDone == nil {
		g.allDone = make(chan struct{})
	}

	return g.allDone
}

// TryWait Waits on the TaskGroup, returning early with ctx.Err() if the context is canceled.
//
// If the context is already canceled when TryWait is called, this method will always return the
// context's error.
func (g *TaskGroup) TryWait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.Wait():
			return nil
		}
	}
}

// Finished returns whether the group is closed and all tasks are finished, i.e. if waiting will
// immediately complete.
func (g *TaskGroup) Finished() bool {
	return isClosed(g.Wait())
}

// Tasks returns information about the set of running tasks.
//
// Each returned TaskInfo is guaranteed to have a Count greater than zero, representing the number
// of tasks with that name. If all task names are unique, all task counts will be 1.
func (g *TaskGroup) Tasks() []TaskInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ts []TaskInfo
	for name, count := range g.tasks {
		ts = append(ts, TaskInfo{Name: name, Count: count})
	}
	return ts
}

// Handles returns the Handles of every task started so far, in the order they were started.
func (g *TaskGroup) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	hs := make([]*Handle, len(g.handles))
	copy(hs, g.handles)
	return hs
}

// Name returns the name the task was started with.
func (h *Handle) Name() string {
	return h.name
}

// Done returns a channel that is closed once the task returns.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Finished returns whether the task has returned.
func (h *Handle) Finished() bool {
	return isClosed(h.done)
}

// Wait blocks until the task returns, giving its error, or until ctx is done, giving ctx.Err().
func (h *Handle) Wait(ctx context.Context) error {
	if err := waitClosed(ctx, h.done); err != nil {
		return err
	}
	return h.err
}

// Err returns the error the task returned. It is always nil while the task is running.
func (h *Handle) Err() error {
	if !h.Finished() {
		return nil
	}
	return h.err
}

// Elapsed returns how long the task has been running, or how long it ran for if it has finished.
func (h *Handle) Elapsed() time.Duration {
	if !h.Finished() {
		return time.Since(h.started)
	}
	return h.elapsed
}

// obligatory // comment

/*
Package ensemble runs a fixed set of concurrent tasks under a supervisor that can unwind all of them
early, with a focus on minimizing magic.

The pieces, bottom-up:

- Cancellation: [Signal], [Listener], and [InterruptSource]
- Task tracking: [TaskGroup], [Handle], [TaskInfo]
- Supervision: [Orchestrator], [Task], [Workload], [Report]
- Diagnostics: [Metrics], [StackTrace], [PanicError]

# Signals

A [Signal] is a one-shot broadcast flag. Triggering it is idempotent and never fails; everything
waiting on it is released at once, and anything that starts waiting afterwards returns immediately.
Signals can have children (triggered along with the parent) and callbacks registered with
[Signal.On].

Tasks are only ever given a [Listener]: they can observe a Signal, but not trigger it.

# Orchestration

[Orchestrator.Run] creates one Signal per run, starts every [Task] in a [TaskGroup], and starts a
watcher on an [InterruptSource] (by default, Ctrl+C or SIGTERM). The run ends as soon as either all
tasks have returned, or the watcher fires. In the second case, the Signal is triggered and Run
returns without waiting for the tasks that are still going.

Cancellation is cooperative, never preemptive. A task that wants to stop early has to watch its
Listener, for example:

	func(l ensemble.Listener) error {
		select {
		case <-l.Done():
			return nil // cancelled; do nothing more
		case <-time.After(30 * time.Second):
		}
		return doTheThing()
	}

A task that ignores its Listener (see [Detached]) cannot be stopped. It keeps running after its run
has been cancelled, and is listed in [Report].Orphaned. This isn't reported as an error.

Tasks return errors, which are recorded per task in the [Report] without affecting the outcome of
the run. The only failure of a run itself is the interrupt source being unavailable, which wraps
[ErrInterruptUnavailable].
*/
package ensemble

package ensemble

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrTriggered is the cause given to contexts produced by [Signal.Context] once the Signal has
// been triggered.
var ErrTriggered = errors.New("ensemble: signal triggered")

// Listener is the read-only view of a [Signal] that is handed to tasks. It allows observing a
// cancellation request, but not making one.
type Listener interface {
	// Triggered reports whether the signal has been triggered. Once true, it never reverts.
	Triggered() bool
	// Done returns a channel that is closed when the signal is triggered.
	Done() <-chan struct{}
	// Wait blocks until the signal is triggered, returning nil, or until ctx is done, returning
	// ctx.Err(). If the signal was already triggered, Wait returns nil without blocking.
	Wait(ctx context.Context) error
}

// Signal is a one-shot, broadcast cancellation flag.
//
// A Signal starts out untriggered. The first call to [Signal.Trigger] closes the channel returned
// by [Signal.Done], runs all callbacks registered with [Signal.On], and triggers all child
// Signals. Every later call is a no-op.
//
// Signals are hierarchical: triggering a parent triggers its children, but triggering a child does
// not affect the parent. Callbacks and children are processed sequentially, in the reverse order
// of when they were registered.
//
// All methods are safe for concurrent use.
type Signal struct {
	mu sync.Mutex

	parent     *Signal
	idInParent int
	children   []*Signal

	// done is never reassigned after construction, so it can be read without holding mu.
	done      chan struct{}
	triggered bool
	callbacks []callback
	nextID    int
}

var _ Listener = (*Signal)(nil)

type callback struct {
	id int
	f  func()
}

// NewSignal creates a new, untriggered Signal with no parent.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// NewChild creates a Signal that is triggered whenever s is.
//
// If s has already been triggered, the returned child is too.
func (s *Signal) NewChild() *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.triggered {
		return &Signal{done: alwaysClosed, triggered: true}
	}

	id := s.nextID
	s.nextID += 1

	child := &Signal{
		parent:     s,
		idInParent: id,
		done:       make(chan struct{}),
	}
	s.children = append(s.children, child)
	return child
}

// Detach removes s from its parent, so that triggering the parent no longer triggers s. Detach is a
// no-op for Signals without a parent, or that have already been detached.
func (s *Signal) Detach() {
	s.mu.Lock()
	parent := s.parent
	s.parent = nil
	s.mu.Unlock()

	if parent == nil {
		return
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	// children are appended in increasing id order, so the list is always sorted.
	idx, ok := slices.BinarySearchFunc(parent.children, s.idInParent, func(c *Signal, id int) int {
		return c.idInParent - id
	})
	if !ok {
		panic("internal error: child Signal not found in parent")
	}
	parent.children = slices.Delete(parent.children, idx, idx+1)
}

// On registers callbacks to run when s is triggered. Each callback is called at most once.
//
// If s has already been triggered, the callbacks are called immediately, in reverse order, before
// On returns.
func (s *Signal) On(callbacks ...func()) {
	s.mu.Lock()

	if s.triggered {
		s.mu.Unlock()

		for i := len(callbacks) - 1; i >= 0; i -= 1 {
			callbacks[i]()
		}
		return
	}

	for _, f := range callbacks {
		s.callbacks = append(s.callbacks, callback{id: s.nextID, f: f})
		s.nextID += 1
	}
	s.mu.Unlock()
}

// Trigger marks s as triggered, releasing everything waiting on it.
//
// Only the first call has any effect. Trigger returns once all callbacks have run and all children
// have been triggered; a concurrent call that loses the race to be first may return before that.
func (s *Signal) Trigger() {
	s.mu.Lock()
	if s.triggered {
		s.mu.Unlock()
		return
	}

	s.triggered = true // prevents all further writes to s.callbacks
	close(s.done)

	callbacks := s.callbacks
	s.callbacks = nil
	// children may still be removed by Detach, so take our own copy
	children := slices.Clone(s.children)
	s.mu.Unlock()

	// Run callbacks and triggers for children without holding the lock; these might be reentrant.
	cbIdx := len(callbacks) - 1
	childIdx := len(children) - 1
	for cbIdx >= 0 || childIdx >= 0 {
		cbID := -1
		if cbIdx != -1 {
			cbID = callbacks[cbIdx].id
		}
		childID := -1
		if childIdx != -1 {
			childID = children[childIdx].idInParent
		}

		if cbID > childID {
			callbacks[cbIdx].f()
			cbIdx -= 1
		} else {
			children[childIdx].Trigger()
			childIdx -= 1
		}
	}
}

// Listener returns a read-only view of s, which can observe but not trigger it.
func (s *Signal) Listener() Listener {
	return listener{s: s}
}

type listener struct {
	s *Signal
}

func (l listener) Triggered() bool                { return l.s.Triggered() }
func (l listener) Done() <-chan struct{}          { return l.s.Done() }
func (l listener) Wait(ctx context.Context) error { return l.s.Wait(ctx) }

// Triggered reports whether s has been triggered.
func (s *Signal) Triggered() bool {
	return isClosed(s.done)
}

// Done returns a channel that is closed once s is triggered.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until s is triggered or ctx is done.
//
// If s has already been triggered, Wait always returns nil, even if ctx is also done.
//
// Wait means that a *Signal is itself an [InterruptSource]: a run can be cancelled by triggering
// a Signal owned by the caller.
func (s *Signal) Wait(ctx context.Context) error {
	return waitClosed(ctx, s.done)
}

// Context returns a context derived from parent that is canceled, with cause [ErrTriggered], once
// s is triggered.
//
// The returned CancelFunc releases the resources associated with the context, and should be called
// once the context is no longer needed.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	if s.Triggered() {
		cancel(ErrTriggered)
	} else {
		go func() {
			select {
			case <-s.done:
				cancel(ErrTriggered)
			case <-ctx.Done():
			}
		}()
	}

	return ctx, func() { cancel(context.Canceled) }
}

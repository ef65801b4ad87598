package ensemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal" // rename so we can have variables named 'signal'
)

// ErrInterruptUnavailable is returned (wrapped) by an [InterruptSource] when the underlying
// mechanism for receiving the interrupt could not be set up. It is fatal to a run.
var ErrInterruptUnavailable = errors.New("ensemble: interrupt source unavailable")

// InterruptSource is a single-shot external stop event, like an operator pressing Ctrl+C.
//
// Wait blocks until the event occurs, returning nil. It returns an error wrapping
// [ErrInterruptUnavailable] if the event can never be delivered, and ctx.Err() if ctx is done
// first.
//
// A *[Signal] is an InterruptSource.
type InterruptSource interface {
	Wait(ctx context.Context) error
}

// InterruptFunc adapts an ordinary function to an [InterruptSource].
type InterruptFunc func(ctx context.Context) error

// Wait calls f(ctx).
func (f InterruptFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// Never returns an InterruptSource that only returns once ctx is done.
func Never() InterruptSource {
	return InterruptFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

type osInterrupt struct {
	signals []os.Signal
}

// OSInterrupt returns an [InterruptSource] that waits for the first of the given OS signals. With
// no arguments, it waits for os.Interrupt and, where supported, SIGTERM.
//
// Each call to Wait registers with the os/signal package for the duration of the call only, so
// signals that arrive before Wait is called are not observed.
func OSInterrupt(signals ...os.Signal) InterruptSource {
	if len(signals) == 0 {
		signals = defaultInterruptSignals()
	}
	return &osInterrupt{signals: signals}
}

func (s *osInterrupt) Wait(ctx context.Context) error {
	for _, signal := range s.signals {
		if signal == nil {
			return fmt.Errorf("%w: nil os.Signal", ErrInterruptUnavailable)
		}
	}

	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, s.signals...)
	defer ossignal.Stop(ch)

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ensemble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharnoff/ensemble"
)

func TestNeverWaitsForContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := ensemble.Never().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInterruptFunc(t *testing.T) {
	t.Parallel()

	testErr := errors.New("test")
	var src ensemble.InterruptSource = ensemble.InterruptFunc(func(context.Context) error {
		return testErr
	})
	assert.ErrorIs(t, src.Wait(context.Background()), testErr)
}

func TestSignalIsInterruptSource(t *testing.T) {
	t.Parallel()

	sig := ensemble.NewSignal()
	var src ensemble.InterruptSource = sig

	result := make(chan error, 1)
	go func() { result <- src.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	sig.Trigger()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "Wait did not return after trigger")
	}
}

func TestOSInterruptNilSignal(t *testing.T) {
	t.Parallel()

	err := ensemble.OSInterrupt(nil).Wait(context.Background())
	require.ErrorIs(t, err, ensemble.ErrInterruptUnavailable)
}

func TestOSInterruptRespectsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ensemble.OSInterrupt().Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

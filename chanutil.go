package ensemble

import "context"

// unexported helpers relating to channels

var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func isClosed(c <-chan struct{}) bool {
	if c == nil {
		return false
	}

	select {
	case <-c:
		return true
	default:
		return false
	}
}

// waitClosed blocks until c is closed or ctx is done. If c is already closed, it always returns
// nil, even if ctx is also done.
func waitClosed(ctx context.Context, c <-chan struct{}) error {
	if isClosed(c) {
		return nil
	}

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

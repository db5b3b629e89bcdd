package fleet

import (
	"context"
	"time"

	"github.com/srg/hopper/internal/groutine"
)

// runBounded runs fn in its own goroutine under a deadline of timeout.
//
// When the deadline expires first, fn's context is cancelled and fn is given
// up to grace to return. The caller then closes whatever fn was driving, so
// a transport that ignores cancellation is still abandoned.
func runBounded(parent context.Context, name string, timeout, grace time.Duration, fn func(ctx context.Context) error) attemptResult {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var err error
	done := groutine.Go(ctx, name, func(ctx context.Context) {
		err = fn(ctx)
	})

	select {
	case <-done:
		return classify(parent, err)
	case <-ctx.Done():
	}

	cancel()
	select {
	case <-done:
	case <-time.After(grace):
	}

	if parent.Err() != nil {
		return attemptResult{kind: attemptFailed, err: parent.Err()}
	}
	return attemptResult{kind: attemptTimeout, err: ctx.Err()}
}

// sleep pauses for d. Only cancellation of ctx cuts it short.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

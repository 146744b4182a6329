package poller

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the bound elapses first.
var ErrTimeout = errors.New("poller: wait timed out")

// Check is one probe of an Until wait. done ends the wait successfully; a
// non-nil error ends it with that error.
type Check func(ctx context.Context) (done bool, err error)

// Until probes immediately and then every interval until check reports done,
// fails, or timeout elapses. It never waits past timeout. Cancelling ctx
// returns ctx's error rather than ErrTimeout.
func Until(ctx context.Context, interval, timeout time.Duration, check Check) error {
	waitCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	result := make(chan error, 1)
	h := Start(waitCtx, func(ctx context.Context) {
		done, err := check(ctx)
		if err == nil && !done {
			return
		}
		select {
		case result <- err:
		default:
		}
	}, interval)
	defer h.Stop()

	select {
	case err := <-result:
		// A probe cut short by the deadline reports the deadline, not
		// the probe's own error.
		if err != nil && waitCtx.Err() != nil {
			return waitError(ctx, waitCtx)
		}
		return err
	case <-waitCtx.Done():
		return waitError(ctx, waitCtx)
	}
}

func waitError(parent, waitCtx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(context.Cause(waitCtx), ErrTimeout) {
		return ErrTimeout
	}
	return waitCtx.Err()
}

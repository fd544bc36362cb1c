package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrPollTimeout reports that a polled operation did not finish within its
// deadline. Callers distinguish it from cancellation via errors.Is.
var ErrPollTimeout = errors.New("polling deadline exceeded")

var errStillPending = errors.New("still pending")

// PollUntil invokes check at a fixed interval until it reports done, the
// context is cancelled, or timeout elapses. Shutdown and timeout compose: a
// cancelled parent context surfaces as ctx.Err(), an expired deadline as
// ErrPollTimeout, and an error from check aborts immediately.
func PollUntil(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), pollCtx)

	operation := func() error {
		done, err := check(pollCtx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errStillPending
		}
		return nil
	}

	err := backoff.Retry(operation, b)
	if err == nil {
		return nil
	}
	if errors.Is(err, errStillPending) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPollTimeout
	}
	return err
}

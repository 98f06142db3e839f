// Package wait polls page conditions with a bounded timeout.
package wait

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a condition does not hold before the timeout.
var ErrTimeout = errors.New("timed out waiting for condition")

// Condition reports whether the awaited state has been reached. A non-nil
// error stops polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Until polls cond every interval until it returns true, returns an error,
// or timeout elapses. A non-positive timeout checks the condition once.
// Cancellation of ctx is reported as ctx.Err(), not ErrTimeout.
func Until(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if timeout <= 0 {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTimeout
		}
		return nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return ErrTimeout
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d unless ctx is cancelled first. It is only meant for
// letting animations settle.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package roomsync

import (
	"context"
	"time"
)

// sleep waits for d or until ctx is done, whichever comes first. It reports
// whether the full duration elapsed (false means ctx ended the wait early -
// the caller's watchdog loop uses this to distinguish "time to act" from
// "time to shut down").
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// deadline races the closing of done against d, returning nil if done closes
// first, context.DeadlineExceeded if d elapses first, or ctx.Err() if ctx
// ends first.
func deadline(ctx context.Context, d time.Duration, done <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

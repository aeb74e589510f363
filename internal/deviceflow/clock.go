package deviceflow

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time and cancellable sleeping so tests can
// simulate expiry and slow-down without real waiting.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is cancelled, whichever comes
	// first. Returns ctx's error when interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the Clock backed by real time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package clock virtualizes wall-clock time for the campaign runner. Every
// pacing sleep goes through a Clock so tests can drive time deterministically
// and so pause/stop can abort an in-flight sleep immediately.
package clock

import (
	"context"
	"time"
)

// Clock provides the current time and cancellable sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when the sleep was aborted.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the production clock backed by the system timer.
type Real struct{}

// New returns the production clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

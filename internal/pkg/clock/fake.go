package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually-driven clock for tests. With AutoAdvance enabled every
// Sleep returns immediately after moving virtual time forward, which lets
// end-to-end runner tests execute hour-long pacing schedules instantly.
// Without AutoAdvance, sleepers block until Advance releases them or their
// context is cancelled.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	autoAdvance bool
	waiters     []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan struct{}
}

// NewFake creates a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// SetAutoAdvance makes Sleep advance virtual time and return immediately.
func (f *Fake) SetAutoAdvance(on bool) {
	f.mu.Lock()
	f.autoAdvance = on
	f.mu.Unlock()
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves virtual time forward and wakes every sleeper whose deadline
// has passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	remaining := f.waiters[:0]
	var due []*waiter
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()

	for _, w := range due {
		close(w.ch)
	}
}

// Sleepers returns the number of goroutines currently blocked in Sleep.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	f.mu.Lock()
	if f.autoAdvance {
		f.now = f.now.Add(d)
		f.mu.Unlock()
		return ctx.Err()
	}
	w := &waiter{deadline: f.now.Add(d), ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		f.remove(w)
		return ctx.Err()
	}
}

func (f *Fake) remove(w *waiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cand := range f.waiters {
		if cand == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

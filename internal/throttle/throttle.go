// Package throttle spaces out calls to a quota-limited external service.
package throttle

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum gap between tagging calls.
const DefaultInterval = 4 * time.Second

// Limiter guarantees that consecutive Acquire calls return at least Interval
// apart, across every goroutine sharing the Limiter. The first Acquire never
// waits. One Limiter is meant to be shared by all pipeline runs in a process.
type Limiter struct {
	lim      *rate.Limiter
	interval time.Duration

	// turn is held for the whole wait so callers are released one at a time.
	turn *semaphore.Weighted
	last time.Time // release time of the previous caller, guarded by turn

	onRelease func(time.Time)
}

// New creates a Limiter. A non-positive interval disables throttling.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1), turn: semaphore.NewWeighted(1)}
	}
	return &Limiter{
		lim:      rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		turn:     semaphore.NewWeighted(1),
	}
}

// Acquire blocks until the caller owns the next slot. It only fails when ctx
// is done before the slot arrives.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.turn.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.turn.Release(1)

	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	// The gap runs from the previous caller's real release, not its
	// reservation.
	if !l.last.IsZero() {
		if wait := l.interval - time.Since(l.last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	now := time.Now()
	l.last = now
	if l.interval > 0 {
		// Re-anchor the bucket on the real release time: a fresh limiter
		// drained at now refills exactly one interval later.
		l.lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.lim.AllowN(now, 1)
	}
	if l.onRelease != nil {
		l.onRelease(now)
	}
	return nil
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package ratelimit bounds outbound call frequency with a strict sliding
// window: no rolling window of the configured period ever observes more
// than the configured number of acquisitions, no matter how many
// goroutines are calling.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// reentryJitterFraction spreads out callers that wake at the same moment
// after waiting for the window to drain.
const reentryJitterFraction = 0.1

// Limiter is a sliding-window rate limiter for one remote target.
type Limiter struct {
	mu         sync.Mutex
	calls      int
	period     time.Duration
	timestamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter allows at most calls acquisitions per rolling period.
func NewLimiter(calls int, period time.Duration) *Limiter {
	if calls < 1 {
		calls = 1
	}
	return &Limiter{
		calls:      calls,
		period:     period,
		timestamps: make([]time.Time, 0, calls),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Acquire blocks until the window has capacity, then records the
// acquisition. It returns early only when the context is done. The lock
// is never held while sleeping, so waiters don't serialize behind each
// other's naps; capacity is re-checked after every wake-up.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.timestamps) < l.calls {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}

		// Window is full: wait for the oldest entry to age out, plus
		// jitter so concurrent waiters don't stampede back in together.
		wait := l.timestamps[0].Add(l.period).Sub(now)
		l.mu.Unlock()

		if wait < 0 {
			wait = 0
		}
		wait += time.Duration(rand.Float64() * reentryJitterFraction * float64(l.period))

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops timestamps that have aged out of the window. Caller holds
// the lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

// InWindow returns how many acquisitions are currently inside the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.timestamps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

// Package retry wraps fallible remote operations with bounded,
// backing-off attempts and a three-way failure classification:
// retryable, credential-blocking, and fatal.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// jitterFraction is the spread applied to every computed delay.
const jitterFraction = 0.1

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	BackoffMultiple float64
	MaxDelay        time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy provides sensible defaults for a bot-hostile remote.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	BaseDelay:       2 * time.Second,
	BackoffMultiple: 2.0,
	MaxDelay:        60 * time.Second,
}

// NewPolicy builds a policy, falling back to DefaultPolicy fields for
// zero values.
func NewPolicy(maxAttempts int, baseDelay time.Duration, backoffMultiple float64, maxDelay time.Duration) Policy {
	p := Policy{
		MaxAttempts:     maxAttempts,
		BaseDelay:       baseDelay,
		BackoffMultiple: backoffMultiple,
		MaxDelay:        maxDelay,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.BackoffMultiple <= 0 {
		p.BackoffMultiple = DefaultPolicy.BackoffMultiple
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	return p
}

// Do executes op until it succeeds, fails fatally, or attempts run out.
//
// Fatal failures abort immediately without consuming further attempts.
// Retryable and credential-blocking failures both consume an attempt and
// back off before the next one; credential-blocking bookkeeping (report
// to the pool, advance the identity rotator) is the operation's job, not
// this loop's. The classification only decides whether another attempt
// makes sense at all.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if KindOf(err) == KindFatal {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		if err := sleep(ctx, p.delayBefore(attempt+1)); err != nil {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// delayBefore computes the jittered delay scheduled before the given
// attempt index: BaseDelay * BackoffMultiple^attempt, ±10%, capped at
// MaxDelay.
func (p Policy) delayBefore(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiple, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := (rand.Float64()*2 - 1) * jitterFraction * delay
	return time.Duration(delay + jitter)
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

// Kind is the failure class of an error from a wrapped operation.
type Kind int

const (
	KindRetryable Kind = iota // network, timeout, rate-limit: try again
	KindCredentialBlocked     // auth/consent failure tied to the credential used
	KindFatal                 // malformed input, not found: do not retry
)

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Fatal marks err as permanently failing; Do aborts immediately.
func Fatal(err error) error { return &classified{kind: KindFatal, err: err} }

// CredentialBlocked marks err as attributable to the credential used.
func CredentialBlocked(err error) error { return &classified{kind: KindCredentialBlocked, err: err} }

// KindOf reports the failure class of err. Unmarked errors and context
// cancellations default to retryable and fatal respectively.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	return KindRetryable
}

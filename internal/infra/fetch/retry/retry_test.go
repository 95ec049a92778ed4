package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(maxAttempts int) Policy {
	p := NewPolicy(maxAttempts, time.Second, 2.0, time.Minute)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestDoReturnsOnFirstSuccess(t *testing.T) {
	p := testPolicy(4)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := testPolicy(4)
	calls := 0
	boom := errors.New("connection reset")
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if calls != 4 {
		t.Errorf("expected exactly 4 invocations, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped original error, got %v", err)
	}
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	p := testPolicy(4)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", calls)
	}
}

func TestDoAbortsOnFatal(t *testing.T) {
	p := testPolicy(4)
	calls := 0
	fatal := Fatal(errors.New("video not found"))
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	if calls != 1 {
		t.Errorf("fatal error must not be retried, got %d invocations", calls)
	}
	if KindOf(err) != KindFatal {
		t.Errorf("expected fatal classification to survive, got %v", KindOf(err))
	}
}

func TestDoRetriesCredentialBlocked(t *testing.T) {
	p := testPolicy(3)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return CredentialBlocked(errors.New("sign in to confirm you're not a bot"))
	})
	if calls != 3 {
		t.Errorf("credential-blocking failures consume attempts, expected 3 invocations, got %d", calls)
	}
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
}

func TestBackoffGrowth(t *testing.T) {
	p := NewPolicy(4, time.Second, 2.0, time.Minute)

	// Nominal delay before attempt index 2 is base * multiple^2 = 4s,
	// within the ±10% jitter band.
	for i := 0; i < 50; i++ {
		d := p.delayBefore(2)
		if d < 3600*time.Millisecond || d > 4400*time.Millisecond {
			t.Fatalf("delay before attempt 2 = %v, want 4s ±10%%", d)
		}
	}
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	p := NewPolicy(10, time.Second, 2.0, 5*time.Second)
	for attempt := 1; attempt < 10; attempt++ {
		if d := p.delayBefore(attempt); d > 5500*time.Millisecond {
			t.Fatalf("delay %v exceeds cap with jitter at attempt %d", d, attempt)
		}
	}
}

func TestDoRecordsSleeps(t *testing.T) {
	p := NewPolicy(3, time.Second, 2.0, time.Minute)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_ = p.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("503")
	})

	// Two sleeps for three attempts, growing geometrically.
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(slept))
	}
	if slept[1] < slept[0] {
		t.Errorf("backoff must grow: %v then %v", slept[0], slept[1])
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("connection refused"), KindRetryable},
		{"fatal marker", Fatal(errors.New("invalid url")), KindFatal},
		{"credential marker", CredentialBlocked(errors.New("403")), KindCredentialBlocked},
		{"wrapped fatal", errorsJoin(Fatal(errors.New("gone"))), KindFatal},
		{"context canceled", context.Canceled, KindFatal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("%s: KindOf = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func errorsJoin(err error) error {
	return &wrapErr{err}
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "op failed: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }

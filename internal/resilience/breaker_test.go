package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxlinehq/voxline/internal/resilience"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "t", Trip: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: want errBoom, got %v", i, err)
		}
	}
	if got := b.State(); got != resilience.Open {
		t.Fatalf("state: want Open, got %v", got)
	}
	if err := b.Do(ctx, ok); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("open breaker must reject: got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "t", Trip: 3})
	ctx := context.Background()

	b.Do(ctx, fail)
	b.Do(ctx, fail)
	b.Do(ctx, ok)
	b.Do(ctx, fail)
	b.Do(ctx, fail)
	if got := b.State(); got != resilience.Closed {
		t.Fatalf("state: want Closed after interleaved success, got %v", got)
	}
}

func TestBreaker_HalfOpenProbesThenCloses(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name: "t", Trip: 1, CoolDown: time.Second, Probes: 2, Now: clock,
	})
	ctx := context.Background()

	b.Do(ctx, fail)
	if got := b.State(); got != resilience.Open {
		t.Fatalf("state: want Open, got %v", got)
	}

	now = now.Add(2 * time.Second)
	if got := b.State(); got != resilience.HalfOpen {
		t.Fatalf("state after cool down: want HalfOpen, got %v", got)
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if got := b.State(); got != resilience.Closed {
		t.Fatalf("state after probes: want Closed, got %v", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name: "t", Trip: 1, CoolDown: time.Second, Probes: 2,
		Now: func() time.Time { return now },
	})
	ctx := context.Background()

	b.Do(ctx, fail)
	now = now.Add(2 * time.Second)
	b.Do(ctx, fail) // probe fails
	if got := b.State(); got != resilience.Open {
		t.Fatalf("state: want Open after failed probe, got %v", got)
	}
}

func TestRetry_Succeeds(t *testing.T) {
	t.Parallel()

	calls := 0
	err := resilience.Retry(context.Background(), resilience.RetryConfig{Attempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want 3, got %d", calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	t.Parallel()

	err := resilience.Retry(context.Background(), resilience.RetryConfig{Attempts: 2, Delay: time.Millisecond}, fail)
	if !errors.Is(err, errBoom) {
		t.Fatalf("want wrapped errBoom, got %v", err)
	}
}

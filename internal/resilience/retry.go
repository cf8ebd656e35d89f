package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds a retry loop. Zero fields take defaults.
type RetryConfig struct {
	// Attempts is the total number of tries including the first. Default 3.
	Attempts int

	// Delay is the wait before the first retry; it doubles each attempt.
	// Default 100ms.
	Delay time.Duration

	// MaxDelay caps the backoff. Default 2s.
	MaxDelay time.Duration
}

// Retry runs fn until it succeeds, the attempt budget is spent, or ctx is
// done. The last error is returned wrapped with the attempt count.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}

	delay := cfg.Delay
	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("resilience: retry interrupted after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("resilience: %d attempts exhausted: %w", cfg.Attempts, err)
}

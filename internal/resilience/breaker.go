// Package resilience provides the circuit breaker and bounded retry
// primitives that guard remote calls (the Tier-3 matcher, the embeddings
// backend). All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the cool
// down has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// State is the breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with ErrOpen until the cool down elapses.
	Open

	// HalfOpen lets a bounded number of probes through. Enough successes
	// close the breaker; any failure re-opens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	// Default 5.
	Trip int

	// CoolDown is how long the breaker stays open before probing.
	// Default 30s.
	CoolDown time.Duration

	// Probes is the number of half-open probe calls. Default 3.
	Probes int

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name     string
	trip     int
	coolDown time.Duration
	probes   int
	now      func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	lastFail   time.Time
	probeCalls int
	probeFails int
}

// NewBreaker creates a Breaker from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.Trip,
		coolDown: cfg.CoolDown,
		probes:   cfg.Probes,
		now:      cfg.Now,
	}
}

// Do runs fn if the breaker allows it. A context error from fn counts as a
// failure like any other; callers that want to distinguish cancellation can
// inspect the returned error.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.lastFail) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker half-open", "name", b.name)

	case HalfOpen:
		if b.probeCalls >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFail = b.now()
	if probing {
		b.probeFails++
		b.state = Open
		b.failures = b.trip
		slog.Warn("breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.trip {
		b.state = Open
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probes {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's state, reporting HalfOpen when an open breaker
// has cooled down (the transition itself happens on the next Do).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFail) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}

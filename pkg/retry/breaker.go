package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a named per-dependency circuit breaker. Consecutive failures
// within the window open it; after the reset timeout one probe is allowed,
// and its outcome closes or reopens the circuit.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock Clock

	mu           sync.Mutex
	state        BreakerState
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	probing      bool
}

func NewBreaker(name string, cfg BreakerConfig, opts ...func(*Breaker)) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		clock: realClock{},
		state: BreakerClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func WithBreakerClock(clock Clock) func(*Breaker) {
	return func(b *Breaker) {
		b.clock = clock
	}
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. When open it fails fast with a
// retryable circuit-open error until the reset timeout elapses, at which
// point exactly one probe is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return b.openErrorLocked()
		}
		b.probing = true
		return nil
	default: // open
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = BreakerHalfOpen
			b.probing = true
			slog.Debug("Circuit breaker half-open", "breaker", b.name)
			return nil
		}
		return b.openErrorLocked()
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		slog.Debug("Circuit breaker closed", "breaker", b.name)
	}
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.probing = false
		slog.Debug("Circuit breaker reopened", "breaker", b.name)
		return
	}

	if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.FailureWindow {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++

	if b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		slog.Debug("Circuit breaker opened", "breaker", b.name, "failures", b.failures)
	}
}

// Execute runs op under the breaker, recording its outcome.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) openErrorLocked() error {
	return errdefs.New(errdefs.CodeCircuitBreakerOpen,
		"circuit breaker is open",
		errdefs.WithComponent("retry", "breaker")).
		WithMetadata("breaker", b.name)
}

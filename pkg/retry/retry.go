// Package retry implements bounded retries with exponential backoff and
// jitter, plus named circuit breakers. Retryability is decided by the error
// taxonomy, and server-provided retry-after hints override the computed
// delay. All timing goes through an injectable clock.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// DelayFor computes the delay before attempt+1 (attempt is zero-based),
// honoring a server hint when present. Hinted delays skip jitter.
func (p Policy) DelayFor(attempt int, err error) time.Duration {
	if hint, ok := errdefs.RetryAfterOf(err); ok {
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}

	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		// ±25%
		factor := 0.75 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// ExhaustedError wraps the final error with attempt count and duration.
type ExhaustedError struct {
	Attempts int
	Duration time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts in %v: %v", e.Attempts, e.Duration, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

type Option func(*runner)

func WithClock(clock Clock) Option {
	return func(r *runner) {
		r.clock = clock
	}
}

func WithClassifier(c Classifier) Option {
	return func(r *runner) {
		r.classify = c
	}
}

type runner struct {
	clock    Clock
	classify Classifier
}

// Do executes op up to policy.MaxAttempts times. Terminal errors propagate
// immediately; exhaustion wraps the last error in ExhaustedError.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, opts ...Option) error {
	r := &runner{clock: realClock{}, classify: errdefs.IsRetryable}
	for _, opt := range opts {
		opt(r)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	start := r.clock.Now()
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errdefs.Wrap(errdefs.CodeCancelled, "retry cancelled", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.classify(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.DelayFor(attempt, lastErr)
		slog.Debug("Retrying after failure",
			"attempt", attempt+1,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return errdefs.Wrap(errdefs.CodeCancelled, "retry cancelled during backoff", err)
		}
	}

	return &ExhaustedError{
		Attempts: policy.MaxAttempts,
		Duration: r.clock.Now().Sub(start),
		Err:      lastErr,
	}
}

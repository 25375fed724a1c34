package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

// fakeClock advances instantly and records requested sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noJitterPolicy() Policy {
	p := DefaultPolicy()
	p.Jitter = false
	return p
}

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := Do(context.Background(), noJitterPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errdefs.New(errdefs.CodeTransportTimeout, "slow")
		}
		return nil
	}, WithClock(clock))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.sleeps)
}

func TestDo_TerminalErrorStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	attempts := 0
	terminal := errdefs.New(errdefs.CodeLLMAuth, "bad key")

	err := Do(context.Background(), noJitterPolicy(), func(ctx context.Context) error {
		attempts++
		return terminal
	}, WithClock(clock))

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, terminal)
	assert.Empty(t, clock.sleeps)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := Do(context.Background(), noJitterPolicy(), func(ctx context.Context) error {
		attempts++
		return errdefs.New(errdefs.CodeLLMRateLimit, "429")
	}, WithClock(clock))

	assert.Equal(t, 3, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, errdefs.CodeLLMRateLimit, errdefs.CodeOf(exhausted.Err))
	// Two sleeps happened, never a third after the final attempt.
	assert.Len(t, clock.sleeps, 2)
}

func TestDo_ServerHintOverridesBackoff(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := Do(context.Background(), noJitterPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errdefs.New(errdefs.CodeLLMRateLimit, "429",
				errdefs.WithRetryAfter(12*time.Second))
		}
		return nil
	}, WithClock(clock))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{12 * time.Second}, clock.sleeps)
}

func TestDo_HintCappedAtMaxDelay(t *testing.T) {
	p := noJitterPolicy()
	p.MaxDelay = 5 * time.Second

	err := errdefs.New(errdefs.CodeLLMRateLimit, "429",
		errdefs.WithRetryAfter(time.Hour))
	assert.Equal(t, 5*time.Second, p.DelayFor(0, err))
}

func TestDelayFor_ExponentialGrowthAndCap(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.DelayFor(0, errors.New("x")))
	assert.Equal(t, 2*time.Second, p.DelayFor(1, errors.New("x")))
	assert.Equal(t, 4*time.Second, p.DelayFor(2, errors.New("x")))
	assert.Equal(t, 10*time.Second, p.DelayFor(6, errors.New("x")))
}

func TestDelayFor_JitterStaysInBand(t *testing.T) {
	p := Policy{InitialDelay: 4 * time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.DelayFor(0, errors.New("x"))
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, noJitterPolicy(), func(ctx context.Context) error {
		t.Fatal("op should not run after cancellation")
		return nil
	}, WithClock(newFakeClock()))

	assert.Equal(t, errdefs.CodeCancelled, errdefs.CodeOf(err))
}

func TestDo_CustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	attempts := 0

	err := Do(context.Background(), noJitterPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return sentinel
		}
		return nil
	},
		WithClock(newFakeClock()),
		WithClassifier(func(err error) bool { return errors.Is(err, sentinel) }),
	)

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

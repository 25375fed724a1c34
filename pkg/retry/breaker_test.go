package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

func testBreaker(clock Clock) *Breaker {
	return NewBreaker("llm", BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		ResetTimeout:     30 * time.Second,
	}, WithBreakerClock(clock))
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := testBreaker(newFakeClock())

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.Equal(t, BreakerClosed, b.State())
	}
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeCircuitBreakerOpen, errdefs.CodeOf(err))
	assert.True(t, errdefs.IsRetryable(err))
}

func TestBreaker_FailuresOutsideWindowReset(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerOpen, b.State())
	require.Error(t, b.Allow())

	clock.Advance(30 * time.Second)
	assert.NoError(t, b.Allow(), "first call after reset timeout is the probe")
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.Error(t, b.Allow(), "second call must wait for the probe outcome")
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Error(t, b.Allow())

	// The reopened circuit waits out a fresh reset timeout.
	clock.Advance(30 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreaker_Execute(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("op must not run while open")
		return nil
	})
	assert.Equal(t, errdefs.CodeCircuitBreakerOpen, errdefs.CodeOf(err))

	clock.Advance(30 * time.Second)
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

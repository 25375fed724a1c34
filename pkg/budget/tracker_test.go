package budget

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordAndStatus(t *testing.T) {
	tracker := NewTracker(Limits{MaxTokens: 1000})

	tracker.RecordUsage("gpt-4o", 300, 100)
	tracker.RecordUsage("gpt-4o", 200, 50)

	s := tracker.Status()
	assert.Equal(t, int64(500), s.InputTokens)
	assert.Equal(t, int64(150), s.OutputTokens)
	assert.Equal(t, int64(650), s.TotalTokens)
	assert.False(t, s.Exceeded)
	// 500 in at $2.50/MTok + 150 out at $10/MTok
	assert.InDelta(t, 500.0/1e6*2.50+150.0/1e6*10.00, s.CostUSD, 1e-9)
}

func TestTracker_WouldExceed(t *testing.T) {
	tracker := NewTracker(Limits{MaxTokens: 1000})

	tracker.RecordUsage("local-model", 800, 100)
	assert.False(t, tracker.WouldExceed(50, 50))
	assert.True(t, tracker.WouldExceed(200, 100))
}

func TestTracker_ExceededFlag(t *testing.T) {
	tracker := NewTracker(Limits{MaxTokens: 100})
	tracker.RecordUsage("local-model", 90, 20)
	assert.True(t, tracker.Status().Exceeded)
}

func TestTracker_SoftWarningFiresOnce(t *testing.T) {
	var warnings atomic.Int64
	tracker := NewTracker(Limits{MaxTokens: 100, SoftFraction: 0.8},
		WithWarning(func(s Status) { warnings.Add(1) }))

	tracker.RecordUsage("m", 40, 0)
	assert.Equal(t, int64(0), warnings.Load())

	tracker.RecordUsage("m", 50, 0)
	assert.Equal(t, int64(1), warnings.Load())

	tracker.RecordUsage("m", 50, 0)
	tracker.RecordUsage("m", 50, 0)
	assert.Equal(t, int64(1), warnings.Load(), "warning must fire exactly once")
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tracker := NewTracker(Limits{MaxTokens: 0})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.RecordUsage("gpt-4o", 10, 5)
			}
		}()
	}
	wg.Wait()

	s := tracker.Status()
	assert.Equal(t, int64(50*100*10), s.InputTokens)
	assert.Equal(t, int64(50*100*5), s.OutputTokens)
}

func TestPricing_LongestPrefixLookup(t *testing.T) {
	p := DefaultPricing()

	// Dated snapshots resolve to their family entry.
	dated := p.Cost("claude-3-5-sonnet-20241022", 1_000_000, 0)
	family := p.Cost("claude-3-5-sonnet", 1_000_000, 0)
	assert.Equal(t, family, dated)
	assert.InDelta(t, 3.00, dated, 1e-9)

	// Unknown and local models cost zero.
	assert.Zero(t, p.Cost("llama3.2", 1_000_000, 1_000_000))
	assert.Zero(t, p.Cost("", 500, 500))
}

func TestPricing_Merge(t *testing.T) {
	p := NewPricing(map[string]ModelPrice{
		"custom": {InputPerMTok: 1, OutputPerMTok: 2},
	})
	require.InDelta(t, 1.0+2.0, p.Cost("custom", 1_000_000, 1_000_000), 1e-9)
	assert.Zero(t, p.Cost("gpt-4o", 1_000_000, 0), "non-default table has no gpt entries")
}

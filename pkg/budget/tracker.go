// Package budget tracks cumulative token usage and cost against configurable
// limits, and trims message histories to fit a context window.
package budget

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Limits bound an interview run. Zero values mean unlimited.
type Limits struct {
	MaxTokens    int64
	MaxCostUSD   float64
	SoftFraction float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxTokens:    1_000_000,
		SoftFraction: 0.8,
	}
}

// Status is a point-in-time snapshot of the tracker.
type Status struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	CostUSD      float64 `json:"costUsd"`
	Exceeded     bool    `json:"exceeded"`
}

// WarningFunc fires once when usage crosses the soft fraction of a limit.
type WarningFunc func(status Status)

// Tracker accumulates token usage across concurrent workers. Counters are
// atomic; the soft-limit warning fires at most once and its exact ordering
// under concurrency is best-effort.
type Tracker struct {
	limits  Limits
	pricing *Pricing

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	microCents   atomic.Int64

	warnOnce sync.Once
	onWarn   WarningFunc
}

type TrackerOption func(*Tracker)

func WithPricing(p *Pricing) TrackerOption {
	return func(t *Tracker) {
		t.pricing = p
	}
}

func WithWarning(fn WarningFunc) TrackerOption {
	return func(t *Tracker) {
		t.onWarn = fn
	}
}

func NewTracker(limits Limits, opts ...TrackerOption) *Tracker {
	if limits.SoftFraction <= 0 || limits.SoftFraction > 1 {
		limits.SoftFraction = 0.8
	}
	t := &Tracker{
		limits:  limits,
		pricing: DefaultPricing(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WouldExceed reports whether recording the estimated usage would cross a
// hard limit.
func (t *Tracker) WouldExceed(estInput, estOutput int) bool {
	total := t.inputTokens.Load() + t.outputTokens.Load() + int64(estInput) + int64(estOutput)
	if t.limits.MaxTokens > 0 && total > t.limits.MaxTokens {
		return true
	}
	if t.limits.MaxCostUSD > 0 {
		cost := t.costUSD() + t.pricing.Cost("", estInput, estOutput)
		if cost > t.limits.MaxCostUSD {
			return true
		}
	}
	return false
}

// RecordUsage adds actual usage for model. Safe for concurrent use.
func (t *Tracker) RecordUsage(model string, input, output int) {
	t.inputTokens.Add(int64(input))
	t.outputTokens.Add(int64(output))
	t.microCents.Add(int64(t.pricing.Cost(model, input, output) * 1e8))

	t.maybeWarn()
}

// Status returns the current totals.
func (t *Tracker) Status() Status {
	in := t.inputTokens.Load()
	out := t.outputTokens.Load()
	s := Status{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		CostUSD:      t.costUSD(),
	}
	if t.limits.MaxTokens > 0 && s.TotalTokens > t.limits.MaxTokens {
		s.Exceeded = true
	}
	if t.limits.MaxCostUSD > 0 && s.CostUSD > t.limits.MaxCostUSD {
		s.Exceeded = true
	}
	return s
}

func (t *Tracker) costUSD() float64 {
	return float64(t.microCents.Load()) / 1e8
}

func (t *Tracker) maybeWarn() {
	if t.onWarn == nil {
		return
	}

	crossed := false
	if t.limits.MaxTokens > 0 {
		total := t.inputTokens.Load() + t.outputTokens.Load()
		if float64(total) >= t.limits.SoftFraction*float64(t.limits.MaxTokens) {
			crossed = true
		}
	}
	if !crossed && t.limits.MaxCostUSD > 0 {
		if t.costUSD() >= t.limits.SoftFraction*t.limits.MaxCostUSD {
			crossed = true
		}
	}
	if crossed {
		t.warnOnce.Do(func() {
			t.onWarn(t.Status())
		})
	}
}

func (s Status) String() string {
	return fmt.Sprintf("%d tokens (%d in, %d out), $%.4f",
		s.TotalTokens, s.InputTokens, s.OutputTokens, s.CostUSD)
}

package fallback

import (
	"context"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/llms"
	"github.com/bellwetherhq/bellwether/pkg/retry"
)

// Guard wraps a single provider with bounded retries and a circuit breaker.
// An open breaker fails fast with a failover-worthy error, so a guarded
// provider inside the chain advances it immediately.
type Guard struct {
	provider llms.Provider
	policy   retry.Policy
	breaker  *retry.Breaker
	clock    retry.Clock
}

type GuardOption func(*Guard)

func WithPolicy(policy retry.Policy) GuardOption {
	return func(g *Guard) {
		g.policy = policy
	}
}

func WithBreaker(b *retry.Breaker) GuardOption {
	return func(g *Guard) {
		g.breaker = b
	}
}

func WithGuardClock(clock retry.Clock) GuardOption {
	return func(g *Guard) {
		g.clock = clock
	}
}

func NewGuard(provider llms.Provider, opts ...GuardOption) *Guard {
	g := &Guard{
		provider: provider,
		policy:   retry.DefaultPolicy(),
		clock:    retry.RealClock(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = retry.NewBreaker(provider.Info().ID, retry.DefaultBreakerConfig())
	}
	return g
}

func (g *Guard) Chat(ctx context.Context, messages []llms.Message, opts *llms.Options) (string, error) {
	var text string
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		text, err = g.provider.Chat(ctx, messages, opts)
		return err
	})
	return text, err
}

func (g *Guard) Complete(ctx context.Context, prompt string, opts *llms.Options) (string, error) {
	var text string
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		text, err = g.provider.Complete(ctx, prompt, opts)
		return err
	})
	return text, err
}

func (g *Guard) Stream(ctx context.Context, messages []llms.Message, opts *llms.Options) (<-chan llms.StreamChunk, error) {
	// Only stream setup is retried; chunks past the first are not replayable.
	var ch <-chan llms.StreamChunk
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		ch, err = g.provider.Stream(ctx, messages, opts)
		return err
	})
	return ch, err
}

func (g *Guard) Info() llms.Info {
	return g.provider.Info()
}

func (g *Guard) Close() error {
	return g.provider.Close()
}

func (g *Guard) call(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, g.policy, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, op)
	}, retry.WithClock(g.clock), retry.WithClassifier(retriableUnderGuard))
}

// retriableUnderGuard keeps the taxonomy's retry classes but treats an open
// breaker as terminal for this call, so the failover chain sees it right away.
func retriableUnderGuard(err error) bool {
	if errdefs.CodeOf(err) == errdefs.CodeCircuitBreakerOpen {
		return false
	}
	return errdefs.IsRetryable(err)
}

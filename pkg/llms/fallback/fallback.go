// Package fallback wraps an ordered chain of LLM providers with health
// tracking and automatic failover.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/llms"
	"github.com/bellwetherhq/bellwether/pkg/retry"
)

const defaultUnhealthyRetryDelay = 60 * time.Second

// Health is the tracked state of one provider in the chain.
type Health struct {
	Healthy             bool
	ConsecutiveFailures int
	LastError           error
	LastChecked         time.Time
}

// Client iterates providers in order, skipping unhealthy ones until their
// retry delay elapses (then one probe is allowed). Only failover-worthy
// errors advance the chain; everything else propagates from the first
// provider that produced it.
type Client struct {
	providers           []llms.Provider
	unhealthyRetryDelay time.Duration
	clock               retry.Clock

	mu     sync.Mutex
	health []Health
}

type Option func(*Client)

func WithUnhealthyRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.unhealthyRetryDelay = d
	}
}

func WithClock(clock retry.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func New(providers []llms.Provider, opts ...Option) (*Client, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("fallback chain needs at least one provider")
	}
	c := &Client{
		providers:           providers,
		unhealthyRetryDelay: defaultUnhealthyRetryDelay,
		clock:               retry.RealClock(),
		health:              make([]Health, len(providers)),
	}
	for i := range c.health {
		c.health[i].Healthy = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FailoverWorthy reports whether err should advance the chain to the next
// provider.
func FailoverWorthy(err error) bool {
	switch errdefs.CodeOf(err) {
	case errdefs.CodeLLMAuth,
		errdefs.CodeLLMQuota,
		errdefs.CodeLLMConnection,
		errdefs.CodeLLMRateLimit,
		errdefs.CodeCircuitBreakerOpen:
		return true
	default:
		return false
	}
}

func (c *Client) Chat(ctx context.Context, messages []llms.Message, opts *llms.Options) (string, error) {
	var text string
	err := c.each(ctx, "chat", func(ctx context.Context, p llms.Provider) error {
		var err error
		text, err = p.Chat(ctx, messages, opts)
		return err
	})
	return text, err
}

func (c *Client) Complete(ctx context.Context, prompt string, opts *llms.Options) (string, error) {
	var text string
	err := c.each(ctx, "complete", func(ctx context.Context, p llms.Provider) error {
		var err error
		text, err = p.Complete(ctx, prompt, opts)
		return err
	})
	return text, err
}

func (c *Client) Stream(ctx context.Context, messages []llms.Message, opts *llms.Options) (<-chan llms.StreamChunk, error) {
	var ch <-chan llms.StreamChunk
	err := c.each(ctx, "stream", func(ctx context.Context, p llms.Provider) error {
		var err error
		ch, err = p.Stream(ctx, messages, opts)
		return err
	})
	return ch, err
}

func (c *Client) Info() llms.Info {
	info := c.providers[0].Info()
	info.ID = "fallback"
	info.Name = fmt.Sprintf("Fallback(%d providers)", len(c.providers))
	return info
}

func (c *Client) Close() error {
	var firstErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthOf returns a snapshot of provider i's health.
func (c *Client) HealthOf(i int) Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health[i]
}

func (c *Client) each(ctx context.Context, operation string, op func(ctx context.Context, p llms.Provider) error) error {
	var lastErr error
	tried := 0

	for i, p := range c.providers {
		if c.skip(i) {
			continue
		}
		tried++

		err := op(ctx, p)
		if err == nil {
			c.markHealthy(i)
			return nil
		}

		if !FailoverWorthy(err) {
			return err
		}

		c.markUnhealthy(i, err)
		lastErr = err
		slog.Debug("Provider failed over",
			"provider", p.Info().ID,
			"operation", operation,
			"error", err,
		)
	}

	if tried == 0 {
		return errdefs.New(errdefs.CodeLLMConnection, "all providers marked unhealthy",
			errdefs.WithComponent("fallback", operation))
	}
	return fmt.Errorf("all %d providers failed: %w", tried, lastErr)
}

func (c *Client) skip(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.health[i]
	if h.Healthy {
		return false
	}
	// Allow one probe once the retry delay has elapsed.
	return c.clock.Now().Sub(h.LastChecked) < c.unhealthyRetryDelay
}

func (c *Client) markHealthy(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health[i] = Health{Healthy: true, LastChecked: c.clock.Now()}
}

func (c *Client) markUnhealthy(i int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := &c.health[i]
	h.Healthy = false
	h.ConsecutiveFailures++
	h.LastError = err
	h.LastChecked = c.clock.Now()
}

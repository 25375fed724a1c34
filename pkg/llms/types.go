// Package llms defines the unified LLM provider contract and concrete
// drivers for chat-completion APIs and local model endpoints. Providers
// translate their native error shapes into the errdefs taxonomy and never
// leak provider-specific vocabulary past the interface.
package llms

import (
	"context"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Options carries per-call parameters. Zero values defer to provider
// defaults. Cancellation rides on the context.
type Options struct {
	Model          string
	MaxTokens      int
	Temperature    *float64
	ResponseFormat ResponseFormat
	SystemPrompt   string
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// UsageCallback receives token usage after every call, streaming included.
type UsageCallback func(model string, usage Usage)

type StreamChunk struct {
	Text  string
	Usage *Usage
	Err   error
	Done  bool
}

// Info describes a provider's static capabilities.
type Info struct {
	ID                string
	Name              string
	DefaultModel      string
	SupportsJSON      bool
	SupportsStreaming bool
}

// Provider is the uniform capability surface over all LLM backends.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts *Options) (string, error)
	Complete(ctx context.Context, prompt string, opts *Options) (string, error)
	Stream(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error)
	Info() Info
	Close() error
}

// ProviderConfig configures a concrete driver.
type ProviderConfig struct {
	Type            string   `yaml:"type"`
	Model           string   `yaml:"model"`
	APIKey          string   `yaml:"api_key"`
	BaseURL         string   `yaml:"base_url"`
	Timeout         int      `yaml:"timeout"`
	MaxRetries      int      `yaml:"max_retries"`
	RetryDelay      int      `yaml:"retry_delay"`
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     float64  `yaml:"temperature"`
	RefusalPatterns []string `yaml:"refusal_patterns"`

	// OnUsage, when set, receives token usage from every call.
	OnUsage UsageCallback `yaml:"-"`
}

func (c *ProviderConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if len(c.RefusalPatterns) == 0 {
		c.RefusalPatterns = DefaultRefusalPatterns()
	}
}

func (c *ProviderConfig) reportUsage(model string, usage Usage) {
	if c.OnUsage != nil && (usage.InputTokens > 0 || usage.OutputTokens > 0) {
		c.OnUsage(model, usage)
	}
}

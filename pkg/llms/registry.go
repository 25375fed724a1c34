package llms

import (
	"fmt"
	"strings"

	"github.com/bellwetherhq/bellwether/pkg/registry"
)

// Registry holds named providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProvider constructs a concrete driver for cfg.Type.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai", "openai-compatible":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s (supported: openai, anthropic, ollama)", cfg.Type)
	}
}

// CreateFromConfig constructs a provider and registers it under name.
func (r *Registry) CreateFromConfig(name string, cfg ProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("LLM name cannot be empty")
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register LLM: %w", err)
	}
	return provider, nil
}

// Get returns the provider registered under name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("LLM provider '%s' not found (registered: %s)",
			name, strings.Join(r.Names(), ", "))
	}
	return provider, nil
}

// CloseAll closes every registered provider, returning the first error.
func (r *Registry) CloseAll() error {
	var firstErr error
	for _, p := range r.List() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

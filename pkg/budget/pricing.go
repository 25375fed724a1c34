package budget

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelPrice is the per-million-token price for one model.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"inputPerMtok"`
	OutputPerMTok float64 `yaml:"outputPerMtok"`
}

// Pricing maps models to prices. Lookup falls back to the longest matching
// prefix so dated model snapshots resolve to their family entry.
type Pricing struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

func NewPricing(prices map[string]ModelPrice) *Pricing {
	p := &Pricing{prices: make(map[string]ModelPrice, len(prices))}
	for model, price := range prices {
		p.prices[model] = price
	}
	return p
}

// DefaultPricing covers the providers this tool ships drivers for. Prices
// are loaded at startup and can be overridden from a YAML table.
func DefaultPricing() *Pricing {
	return NewPricing(map[string]ModelPrice{
		"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
		"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
		"gpt-4.1":           {InputPerMTok: 2.00, OutputPerMTok: 8.00},
		"gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60},
		"o1":                {InputPerMTok: 15.00, OutputPerMTok: 60.00},
		"o3-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
		"claude-sonnet-4":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
		"claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
		"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
		"claude-3-opus":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	})
}

// LoadPricing reads a YAML price table and merges it over the defaults.
func LoadPricing(path string) (*Pricing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var table map[string]ModelPrice
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}

	p := DefaultPricing()
	p.mu.Lock()
	for model, price := range table {
		p.prices[model] = price
	}
	p.mu.Unlock()
	return p, nil
}

// Cost returns the USD cost for a call. Unknown models (and local models,
// which have no listed price) cost zero.
func (p *Pricing) Cost(model string, input, output int) float64 {
	price, ok := p.lookup(model)
	if !ok {
		return 0
	}
	return float64(input)/1e6*price.InputPerMTok + float64(output)/1e6*price.OutputPerMTok
}

func (p *Pricing) lookup(model string) (ModelPrice, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if price, ok := p.prices[model]; ok {
		return price, true
	}

	var best string
	for prefix := range p.prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return p.prices[best], true
}

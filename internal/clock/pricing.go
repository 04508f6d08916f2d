package clock

import (
	"strings"
	"sync"
)

// Cost is the per-million-token price for a model, in whatever currency
// the caller's LLM billing uses.
type Cost struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// Estimate computes the cost of inTok input and outTok output tokens at
// this Cost's rates (cache tokens are not tracked at this layer; Budget
// only ever calls Estimate with plain input/output counts).
func (c Cost) Estimate(inTok, outTok int64) float64 {
	return float64(inTok)/1_000_000*c.Input + float64(outTok)/1_000_000*c.Output
}

// PricingTable resolves a model id to its per-million-token cost, used by
// RecordLLMUsage when the LLM adapter did not report an authoritative cost.
//
// Grounded on internal/models/catalog.go's Model registry, trimmed to the
// pricing fields Budget actually needs and inlined here rather than kept
// as a separate usage-tracking package, since Budget is this tree's only
// consumer of a Cost type.
type PricingTable interface {
	Lookup(model string) (Cost, bool)
}

// staticPricingTable is a simple map-backed PricingTable seeded with the
// flagship/standard/fast/mini tiers of the providers the example pack's
// adapters target.
type staticPricingTable struct {
	mu     sync.RWMutex
	prices map[string]Cost
}

// DefaultPricingTable returns a PricingTable seeded with well-known model
// ids. Unknown models resolve to (zero, false), which RecordLLMUsage
// treats as zero-cost rather than an error (spec.md §4.A failure semantics).
func DefaultPricingTable() PricingTable {
	return &staticPricingTable{
		prices: map[string]Cost{
			"claude-opus-4":    {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
			"claude-sonnet-4":  {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
			"claude-haiku-4":   {Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1},
			"gpt-4o":           {Input: 2.5, Output: 10},
			"gpt-4o-mini":      {Input: 0.15, Output: 0.6},
			"gpt-4.1":          {Input: 2, Output: 8},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5},
			"gemini-1.5-flash": {Input: 0.075, Output: 0.3},
		},
	}
}

func (t *staticPricingTable) Lookup(model string) (Cost, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c, ok := t.prices[model]; ok {
		return c, true
	}
	// Fall back to a prefix match so versioned ids like
	// "claude-sonnet-4-20250514" still resolve.
	for id, c := range t.prices {
		if strings.HasPrefix(model, id) {
			return c, true
		}
	}
	return Cost{}, false
}

// Set registers or overrides pricing for a model id.
func (t *staticPricingTable) Set(model string, c Cost) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = c
}

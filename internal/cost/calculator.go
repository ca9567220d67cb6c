// Package cost prices reasoning calls from their token usage.
package cost

import (
	"strings"

	"github.com/sells-group/insight-cli/internal/config"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// Rates maps model or deployment names to prices.
type Rates map[string]ModelRate

// Calculator computes costs for reasoning usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Tokens computes the USD cost of one call. Unknown models cost 0.
func (c *Calculator) Tokens(model string, input, output int64) float64 {
	rate, ok := c.lookup(model)
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	return inCost + outCost
}

// Known reports whether model has a price.
func (c *Calculator) Known(model string) bool {
	_, ok := c.lookup(model)
	return ok
}

// lookup matches the exact name first, then the longest configured name the
// model starts with, so dated snapshots such as "gpt-4o-2024-08-06" find
// "gpt-4o".
func (c *Calculator) lookup(model string) (ModelRate, bool) {
	if r, ok := c.rates[model]; ok {
		return r, true
	}
	best := ""
	for name := range c.rates {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"gpt-4.1":                    {Input: 2.00, Output: 8.00},
		"gpt-4.1-mini":               {Input: 0.40, Output: 1.60},
	}
}

// RatesFromConfig layers configured prices over the defaults.
func RatesFromConfig(cfg config.PricingConfig) Rates {
	rates := DefaultRates()
	for name, p := range cfg.Models {
		rates[name] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}

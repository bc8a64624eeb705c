// Package cost computes per-request provider costs for budget enforcement.
package cost

import "github.com/shopspring/decimal"

// Rates maps provider name to per-operation request pricing in USD.
type Rates map[string]map[string]decimal.Decimal

// Calculator resolves provider call costs from a rate table.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// RequestCost returns the cost of a single provider call for the given
// operation. Unknown provider/operation pairs fall back to one cent so a
// misconfigured rate table still accrues spend rather than none.
func (c *Calculator) RequestCost(provider, operation string) decimal.Decimal {
	if ops, ok := c.rates[provider]; ok {
		if rate, ok := ops[operation]; ok {
			return rate
		}
	}
	return decimal.NewFromFloat(0.01)
}

// DefaultRates returns the default per-request pricing table.
func DefaultRates() Rates {
	return Rates{
		"apollo": {
			"search": decimal.NewFromFloat(0.01),
			"enrich": decimal.NewFromFloat(0.05),
			"verify": decimal.NewFromFloat(0.02),
		},
		"proxycurl": {
			"search":  decimal.NewFromFloat(0.10),
			"profile": decimal.NewFromFloat(0.10),
			"company": decimal.NewFromFloat(0.15),
		},
		"dropcontact": {
			"verify": decimal.NewFromFloat(0.01),
			"enrich": decimal.NewFromFloat(0.03),
		},
	}
}

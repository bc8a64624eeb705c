// Package estimate derives opportunity amounts for CRM deals.
package estimate

import "github.com/shopspring/decimal"

// Employee-count steps for the base deal value, in descending order.
var dealValueSteps = []struct {
	minEmployees int
	base         int64
}{
	{500, 50000},
	{200, 25000},
	{100, 15000},
	{50, 10000},
	{0, 5000},
}

// DealValue estimates the annual deal value in USD from company size
// and lead score. The base amount steps up with headcount; the score
// tier applies a multiplier on top.
func DealValue(employeeCount, leadScore int) decimal.Decimal {
	base := dealValueSteps[len(dealValueSteps)-1].base
	for _, step := range dealValueSteps {
		if employeeCount >= step.minEmployees {
			base = step.base
			break
		}
	}

	value := decimal.NewFromInt(base)
	switch {
	case leadScore >= 90:
		value = value.Mul(decimal.NewFromFloat(1.5))
	case leadScore >= 85:
		value = value.Mul(decimal.NewFromFloat(1.3))
	case leadScore >= 80:
		value = value.Mul(decimal.NewFromFloat(1.1))
	}
	return value.Round(2)
}

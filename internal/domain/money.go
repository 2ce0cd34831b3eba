package domain

import "github.com/shopspring/decimal"

// Round2 rounds a monetary or fractional value to 2 decimal places using
// half-up rounding. float64 arithmetic alone drifts on repeated rounding,
// so the conversion goes through decimal.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

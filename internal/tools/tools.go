package tools

import "github.com/shopspring/decimal"

// RoundToStep rounds quantity down to a whole number of step increments.
// Rounding is always down: a sell sized from held quantity must never
// round up past what is actually held, and exchanges reject quantities
// with more precision than the pair's step size.
func RoundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}

	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)

	rounded, _ := q.Div(s).Floor().Mul(s).Float64()
	return rounded
}

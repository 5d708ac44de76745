// Package precision rounds prices and quantities down to the granularity an
// exchange mandates for a symbol. Rounding is always toward zero: rounding up
// could increase exposure or get the order rejected for over-precision.
package precision

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	one = decimal.NewFromInt(1)
	ten = decimal.NewFromInt(10)
)

// StepPrecision derives the number of decimal places implied by a tick or
// step size from its order of magnitude. "0.001" -> 3, "0.25" -> 1,
// "1" -> 0, "10" -> -1. Trailing zeros in the input ("0.00100000", as
// exchange-info returns them) do not change the result.
func StepPrecision(step decimal.Decimal) (int32, error) {
	if step.Sign() <= 0 {
		return 0, fmt.Errorf("step size must be positive, got %s", step)
	}

	var prec int32
	for step.LessThan(one) {
		step = step.Shift(1)
		prec++
	}
	for step.GreaterThanOrEqual(ten) {
		step = step.Shift(-1)
		prec--
	}
	return prec, nil
}

// RoundDown rounds v down to the increment implied by step. The result r
// satisfies r <= v and v - r < 10^-precision.
func RoundDown(v, step decimal.Decimal) (decimal.Decimal, error) {
	prec, err := StepPrecision(step)
	if err != nil {
		return decimal.Zero, err
	}
	return v.RoundFloor(prec), nil
}

// ParseStep parses a step/tick size as the exchange declares it, a decimal
// string with an arbitrary number of fractional digits.
func ParseStep(s string) (decimal.Decimal, error) {
	step, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid step size %q: %w", s, err)
	}
	return step, nil
}

// Package decimalx provides exact-decimal conversion helpers shared by the
// strategy-engine calculators. Conversions from binary floats go through
// string rendering so small-priced assets don't pick up float artifacts.
package decimalx

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToDecimal converts a string, float64, int, or decimal.Decimal into a
// decimal.Decimal. It returns (zero, false) if x cannot be converted.
func ToDecimal(x any) (decimal.Decimal, bool) {
	switch v := x.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		// Route through string formatting to avoid binary-float noise on
		// low-priced assets (e.g. 0.0000001234).
		d, err := decimal.NewFromString(fmt.Sprintf("%g", v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float32:
		return ToDecimal(float64(v))
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	default:
		return decimal.Zero, false
	}
}

// ToDecimalSafe is like ToDecimal but returns fallback instead of false.
func ToDecimalSafe(x any, fallback decimal.Decimal) decimal.Decimal {
	d, ok := ToDecimal(x)
	if !ok {
		return fallback
	}
	return d
}

// Compare returns -1, 0, or 1 per decimal.Decimal.Cmp, exposed as a named
// function so call sites read like the source's decimal_compare.
func Compare(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

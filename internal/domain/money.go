package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// All balance and transfer arithmetic in this system is integer minor
// currency units. Decimal values appear only at the edges: the state sink
// publishes major units, the aggregation API reports major units, and
// configuration thresholds are written in major units. These helpers keep
// those conversions exact; floats never touch money.

// minorPerMajor assumes a two-decimal currency (pence per pound).
var minorPerMajor = decimal.NewFromInt(100)

// MinorToMajor converts minor units to an exact major-unit decimal,
// e.g. 12345 -> 123.45.
func MinorToMajor(amountMinor int64) decimal.Decimal {
	return decimal.NewFromInt(amountMinor).Div(minorPerMajor)
}

// MinorToMajorString formats minor units as a major-unit string with two
// decimal places, the form the state sink expects.
func MinorToMajorString(amountMinor int64) string {
	return MinorToMajor(amountMinor).StringFixed(2)
}

// MajorToMinor converts an exact major-unit decimal to minor units.
// A value with sub-minor precision (fractional pence) is rejected rather
// than rounded: balances from the aggregation API and thresholds from
// configuration must be representable exactly.
func MajorToMinor(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(minorPerMajor)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-minor-unit precision", amount)
	}
	return minor.IntPart(), nil
}

// MajorStringToMinor parses a major-unit amount string ("123.45") into
// minor units.
func MajorStringToMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MajorToMinor(d)
}

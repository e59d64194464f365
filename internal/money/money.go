// Package money holds the numeric conventions for every amount the ledger
// touches: decimals with two fractional digits, rounded half away from zero,
// converted to and from the gateway's integer minor units (cents of a KES).
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

const Currency = "KES"

var ErrNotRepresentable = errors.New("amount is not representable in minor units")

var hundred = decimal.NewFromInt(100)

// Round normalizes an amount to 2 decimal places, half away from zero.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ToMinorUnits converts a KES amount to integer cents. The amount must
// already be exact at 2 decimal places; a lossy conversion is an error, not a
// silent rounding, because the gateway confirmation is compared for exact
// equality on the way back.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred)
	if !cents.IsInteger() {
		return 0, ErrNotRepresentable
	}
	return cents.IntPart(), nil
}

// FromMinorUnits converts integer cents back to a KES amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(hundred)
}

// Percent applies ratePercent to amount and rounds to 2dp half away from
// zero. The commission resolver relies on commission + net == amount exactly,
// which holds because net is computed by subtraction, never re-rounded.
func Percent(amount decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(ratePercent).Div(hundred))
}

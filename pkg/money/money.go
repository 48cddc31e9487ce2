package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Currency symbol used in buyer-facing text.
const Currency = "USD"

// FromCents converts minor units into a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

// FormatCents renders minor units with two fixed places, e.g. 1050 -> "10.50".
func FormatCents(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

// MultiplyCents returns unit*qty, reporting false on overflow or negative input.
func MultiplyCents(unit int64, qty int) (int64, bool) {
	if unit < 0 || qty < 0 {
		return 0, false
	}
	if qty == 0 || unit == 0 {
		return 0, true
	}
	if unit > math.MaxInt64/int64(qty) {
		return 0, false
	}
	return unit * int64(qty), true
}

// Package money holds the fixed-point helpers shared by pricing, vouchers and
// the payment gateway.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits stored for every amount.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)
	// MaxAmount is the largest value a NUMERIC(14,2) column holds.
	MaxAmount = decimal.RequireFromString("999999999999.99")
)

// ExceedsMax reports whether d cannot be stored.
func ExceedsMax(d decimal.Decimal) bool {
	return d.GreaterThan(MaxAmount)
}

// Hundred is the percentage base.
func Hundred() decimal.Decimal { return hundred }

// Round rounds d half away from zero to the stored precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Format renders d with exactly Places fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Parse parses an exact decimal amount. Amounts with more precision than
// Places are rejected rather than silently rounded.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", s)
	}
	if !d.Equal(d.Truncate(Places)) {
		return decimal.Zero, errors.Errorf("amount %q has more than %d decimal places", s, Places)
	}
	return d, nil
}

// ToMinor converts d into an integer count of gateway minor units, where one
// major unit equals scale minor units. It fails when d is not representable
// exactly.
func ToMinor(d decimal.Decimal, scale int64) (int64, error) {
	if scale <= 0 {
		return 0, errors.Errorf("invalid minor unit scale %d", scale)
	}
	m := d.Mul(decimal.NewFromInt(scale))
	if !m.IsInteger() {
		return 0, errors.Errorf("amount %s is not a whole number of minor units at scale %d", d, scale)
	}
	return m.IntPart(), nil
}

// FromMinor converts a gateway minor-unit count back into a major amount.
func FromMinor(minor, scale int64) (decimal.Decimal, error) {
	if scale <= 0 {
		return decimal.Zero, errors.Errorf("invalid minor unit scale %d", scale)
	}
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(scale)), nil
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

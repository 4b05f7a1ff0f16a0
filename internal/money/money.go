// Package money holds the decimal helpers used for every price, total and
// payment comparison.
package money

import "github.com/shopspring/decimal"

// Epsilon is the largest difference tolerated between a provider-reported
// amount and an order total.
var Epsilon = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

func Round(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Within reports whether a and b differ by at most Epsilon.
func Within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// FromMinor converts an amount in minor units (øre, cents) to a decimal.
func FromMinor(v int64) decimal.Decimal { return decimal.New(v, -2) }

// ToMinor converts to minor units, rounding half away from zero.
func ToMinor(d decimal.Decimal) int64 { return d.Mul(hundred).Round(0).IntPart() }

// Line is price x quantity.
func Line(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

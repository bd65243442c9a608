// Package money provides the shared decimal helpers for prices and payments.
//
// All amounts are shopspring decimals in the gym's currency. Amounts shown to
// operators or persisted to receipts are rounded to 2 decimal places.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places amounts are presented with.
const Places = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse converts a decimal string (e.g. "850.50") to an amount.
// Returns (Zero, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Exponent notation is rejected
func Parse(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, true
	}
	if strings.HasPrefix(s, "-") || strings.ContainsAny(s, "eE") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// MustParse is Parse for trusted literals (tables, tests). It panics on bad input.
func MustParse(s string) decimal.Decimal {
	d, ok := Parse(s)
	if !ok {
		panic("money: invalid amount " + s)
	}
	return d
}

// Round rounds to Places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Format renders an amount with exactly Places decimals (e.g. "850.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// NonNegative returns max(0, d).
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

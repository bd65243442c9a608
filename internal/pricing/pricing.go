// Package pricing computes per-unit plan prices after at most one discount tag.
//
// Discounts are flat per-plan subtractions, never percentages, and only apply
// to the monthly-access family of plans. Everything else is sold at base price
// even when the member holds an active tag.
package pricing

import (
	"slices"
	"strconv"
	"strings"

	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/shopspring/decimal"
)

// DiscountType names a discount eligibility.
type DiscountType string

const (
	DiscountNone    DiscountType = "none"
	DiscountStudent DiscountType = "student"
	DiscountSenior  DiscountType = "senior"
)

// ParseDiscountType maps free input to a DiscountType. Unknown and empty
// values are neutral.
func ParseDiscountType(s string) DiscountType {
	switch DiscountType(strings.ToLower(strings.TrimSpace(s))) {
	case DiscountStudent:
		return DiscountStudent
	case DiscountSenior:
		return DiscountSenior
	default:
		return DiscountNone
	}
}

// IsTag reports whether t is a type a discount tag can carry.
func (t DiscountType) IsTag() bool {
	return t == DiscountStudent || t == DiscountSenior
}

// DiscountFamily is the allow-list of plans a discount may reduce.
var DiscountFamily = []plan.ID{
	plan.PlanMonthlyStandard,
	plan.PlanMonthlyPremium,
	plan.PlanMonthlyOffPeak,
}

// DiscountTable holds the flat amount per (plan, discount type).
var DiscountTable = map[plan.ID]map[DiscountType]decimal.Decimal{
	plan.PlanMonthlyStandard: {
		DiscountStudent: money.MustParse("100"),
		DiscountSenior:  money.MustParse("150"),
	},
	plan.PlanMonthlyPremium: {
		DiscountStudent: money.MustParse("149"),
		DiscountSenior:  money.MustParse("199"),
	},
}

// FallbackDiscount applies to family plans missing from DiscountTable.
var FallbackDiscount = map[DiscountType]decimal.Decimal{
	DiscountStudent: money.MustParse("50"),
	DiscountSenior:  money.MustParse("75"),
}

// Calculator prices plans. The zero value is not usable; use NewCalculator.
type Calculator struct {
	family   []plan.ID
	table    map[plan.ID]map[DiscountType]decimal.Decimal
	fallback map[DiscountType]decimal.Decimal
}

// NewCalculator returns a calculator over the fixed discount tables.
func NewCalculator() *Calculator {
	return &Calculator{
		family:   DiscountFamily,
		table:    DiscountTable,
		fallback: FallbackDiscount,
	}
}

// DiscountAmount returns the flat reduction for id under t (zero when none applies).
func (c *Calculator) DiscountAmount(id plan.ID, t DiscountType) decimal.Decimal {
	if !t.IsTag() || !slices.Contains(c.family, id) {
		return decimal.Zero
	}
	if amt, ok := c.table[id][t]; ok {
		return amt
	}
	return c.fallback[t]
}

// UnitPrice returns max(0, basePrice - discount).
func (c *Calculator) UnitPrice(p plan.Plan, t DiscountType) decimal.Decimal {
	return money.NonNegative(p.BasePrice.Sub(c.DiscountAmount(p.ID, t)))
}

// LineTotal returns UnitPrice * quantity, with quantity coerced to at least 1.
func (c *Calculator) LineTotal(p plan.Plan, t DiscountType, quantity int) decimal.Decimal {
	q := NormalizeQuantity(quantity)
	return c.UnitPrice(p, t).Mul(decimal.NewFromInt(int64(q)))
}

// NormalizeQuantity coerces quantities below 1 to 1.
func NormalizeQuantity(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ParseQuantity parses a quantity field, falling back to 1 on bad input.
func ParseQuantity(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 1
	}
	return NormalizeQuantity(n)
}

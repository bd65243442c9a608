package pricing

import (
	"testing"

	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/stretchr/testify/assert"
)

var (
	membership = plan.Plan{ID: plan.PlanMembership, Name: "Annual Membership", BasePrice: money.MustParse("999"), UnitLabel: "year"}
	standard   = plan.Plan{ID: plan.PlanMonthlyStandard, Name: "Standard Monthly Access", BasePrice: money.MustParse("1500"), UnitLabel: "month"}
	premium    = plan.Plan{ID: plan.PlanMonthlyPremium, Name: "Premium Monthly Access", BasePrice: money.MustParse("999"), UnitLabel: "month"}
	offPeak    = plan.Plan{ID: plan.PlanMonthlyOffPeak, Name: "Off-Peak Monthly Access", BasePrice: money.MustParse("60"), UnitLabel: "month"}
	locker     = plan.Plan{ID: plan.PlanLocker, Name: "Locker Rental", BasePrice: money.MustParse("150"), UnitLabel: "month"}
)

func TestParseDiscountType(t *testing.T) {
	assert.Equal(t, DiscountStudent, ParseDiscountType(" Student "))
	assert.Equal(t, DiscountSenior, ParseDiscountType("senior"))
	assert.Equal(t, DiscountNone, ParseDiscountType(""))
	assert.Equal(t, DiscountNone, ParseDiscountType("veteran"))
	assert.False(t, DiscountNone.IsTag())
	assert.True(t, DiscountSenior.IsTag())
}

func TestUnitPrice(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name string
		p    plan.Plan
		d    DiscountType
		want string
	}{
		{"no discount", premium, DiscountNone, "999.00"},
		{"premium student", premium, DiscountStudent, "850.00"},
		{"premium senior", premium, DiscountSenior, "800.00"},
		{"standard student", standard, DiscountStudent, "1400.00"},
		{"fallback student", offPeak, DiscountStudent, "10.00"},
		{"fallback senior floors at zero", offPeak, DiscountSenior, "0.00"},
		{"membership ignores discount", membership, DiscountStudent, "999.00"},
		{"locker ignores discount", locker, DiscountSenior, "150.00"},
		{"unknown type is neutral", premium, DiscountType("veteran"), "999.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, money.Format(c.UnitPrice(tt.p, tt.d)))
		})
	}
}

func TestLineTotal(t *testing.T) {
	c := NewCalculator()
	assert.Equal(t, "1998.00", money.Format(c.LineTotal(membership, DiscountNone, 2)))
	assert.Equal(t, "850.00", money.Format(c.LineTotal(premium, DiscountStudent, 1)))
	assert.Equal(t, "850.00", money.Format(c.LineTotal(premium, DiscountStudent, 0)), "quantity coerced to 1")
	assert.Equal(t, "450.00", money.Format(c.LineTotal(locker, DiscountNone, 3)))
}

func TestQuantityCoercion(t *testing.T) {
	assert.Equal(t, 1, NormalizeQuantity(0))
	assert.Equal(t, 1, NormalizeQuantity(-4))
	assert.Equal(t, 7, NormalizeQuantity(7))
	assert.Equal(t, 3, ParseQuantity(" 3"))
	assert.Equal(t, 1, ParseQuantity("two"))
	assert.Equal(t, 1, ParseQuantity("0"))
	assert.Equal(t, 1, ParseQuantity(""))
}

func TestDiscountAmount(t *testing.T) {
	c := NewCalculator()
	assert.Equal(t, "149.00", money.Format(c.DiscountAmount(plan.PlanMonthlyPremium, DiscountStudent)))
	assert.Equal(t, "75.00", money.Format(c.DiscountAmount(plan.PlanMonthlyOffPeak, DiscountSenior)))
	assert.True(t, c.DiscountAmount(plan.PlanLocker, DiscountStudent).IsZero())
	assert.True(t, c.DiscountAmount(plan.PlanMonthlyPremium, DiscountNone).IsZero())
}

package enrollment

import (
	"strings"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/mbd888/gymops/internal/settlement"
)

// PaymentRequest is the payment as entered at the desk.
type PaymentRequest struct {
	Method          string `json:"method"`
	AmountReceived  string `json:"amountReceived"`
	ReferenceNumber string `json:"referenceNumber"`
}

// ValidateSelections checks a requested selection before any pricing. A
// zero quantity means "not given" and defaults to 1.
func ValidateSelections(selections []order.Selection) error {
	if len(selections) == 0 {
		return failure.Validation("select at least one plan")
	}
	for _, s := range selections {
		if s.Quantity < 0 {
			return failure.Validation("quantity for plan %d must be at least 1", s.PlanID)
		}
	}
	return nil
}

// Price builds a priced order from selections without touching any store.
func Price(b *order.Builder, memberID string, discount pricing.DiscountType, selections []order.Selection) (order.Order, error) {
	if err := ValidateSelections(selections); err != nil {
		return order.Order{}, err
	}
	return b.Build(memberID, discount, selections)
}

// ApplyPayment parses p onto o.
func ApplyPayment(o order.Order, p PaymentRequest) (order.Order, error) {
	method, ok := order.ParsePaymentMethod(p.Method)
	if !ok {
		return o, failure.Validation("payment method must be %q or %q", order.PaymentCash, order.PaymentDigital)
	}
	received, ok := money.Parse(p.AmountReceived)
	if !ok {
		return o, failure.Validation("amountReceived %q is not a valid amount", strings.TrimSpace(p.AmountReceived))
	}
	return o.WithPayment(method, received, p.ReferenceNumber), nil
}

// Settle prices selections, applies the payment and allocates it.
func Settle(b *order.Builder, discount pricing.DiscountType, selections []order.Selection, p PaymentRequest) (order.Order, settlement.Result, error) {
	o, err := Price(b, "", discount, selections)
	if err != nil {
		return o, settlement.Result{}, err
	}
	if o, err = ApplyPayment(o, p); err != nil {
		return o, settlement.Result{}, err
	}
	result, err := settlement.Allocate(o)
	return o, result, err
}

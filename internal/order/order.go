// Package order builds draft purchase orders as immutable values.
//
// Every mutation returns a new Order with all line prices and the grand total
// recomputed from the catalog; nothing is updated incrementally.
package order

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownPlan     = errors.New("order: plan not in catalog")
	ErrPlanUnavailable = errors.New("order: plan not available to this member")
	ErrPlanNotSelected = errors.New("order: plan not selected")
)

// PaymentMethod is how an order is paid.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentDigital PaymentMethod = "digital"
)

// ParsePaymentMethod normalises a payment method; ok is false for unknown input.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentCash:
		return PaymentCash, true
	case PaymentDigital:
		return PaymentDigital, true
	}
	return "", false
}

// Line is one selected plan with its computed price.
type Line struct {
	PlanID    plan.ID         `json:"planId"`
	PlanName  string          `json:"planName"`
	UnitLabel string          `json:"unitLabel"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	Renewal   bool            `json:"renewal,omitempty"` // display only
}

// Order is a draft purchase. Lines are in selection order with no duplicate plan.
type Order struct {
	MemberID        string               `json:"memberId,omitempty"` // empty while the member is pending creation
	Lines           []Line               `json:"lines"`
	DiscountType    pricing.DiscountType `json:"discountType"`
	GrandTotal      decimal.Decimal      `json:"grandTotal"`
	StartDate       time.Time            `json:"startDate"`
	PaymentMethod   PaymentMethod        `json:"paymentMethod,omitempty"`
	AmountReceived  decimal.Decimal      `json:"amountReceived"`
	ReferenceNumber string               `json:"referenceNumber,omitempty"`
	Notes           string               `json:"notes,omitempty"`
}

// AmountPaid is the grand total rounded to 2 places. It is derived, never set.
func (o Order) AmountPaid() decimal.Decimal {
	return money.Round(o.GrandTotal)
}

// MarshalJSON adds the derived amountPaid field.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		AmountPaid decimal.Decimal `json:"amountPaid"`
	}{plain(o), o.AmountPaid()})
}

// PlanIDs returns the selected plan ids in selection order.
func (o Order) PlanIDs() []plan.ID {
	ids := make([]plan.ID, len(o.Lines))
	for i, l := range o.Lines {
		ids[i] = l.PlanID
	}
	return ids
}

// Line returns the line for id.
func (o Order) Line(id plan.ID) (Line, bool) {
	for _, l := range o.Lines {
		if l.PlanID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Empty reports whether no plan is selected.
func (o Order) Empty() bool { return len(o.Lines) == 0 }

// WithPayment returns a copy with payment details set. Totals are unaffected.
func (o Order) WithPayment(method PaymentMethod, received decimal.Decimal, reference string) Order {
	o = o.clone()
	o.PaymentMethod = method
	o.AmountReceived = received
	o.ReferenceNumber = strings.TrimSpace(reference)
	return o
}

// WithStartDate returns a copy starting on day (truncated to the date).
func (o Order) WithStartDate(day time.Time) Order {
	o = o.clone()
	y, m, d := day.Date()
	o.StartDate = time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return o
}

// WithNotes returns a copy with operator notes.
func (o Order) WithNotes(notes string) Order {
	o = o.clone()
	o.Notes = notes
	return o
}

// WithMember returns a copy bound to memberID.
func (o Order) WithMember(memberID string) Order {
	o = o.clone()
	o.MemberID = memberID
	return o
}

// MarkRenewals flags lines whose plan the member already holds. Display only.
func (o Order) MarkRenewals(active []plan.ID) Order {
	o = o.clone()
	for i := range o.Lines {
		o.Lines[i].Renewal = slices.Contains(active, o.Lines[i].PlanID)
	}
	return o
}

func (o Order) clone() Order {
	o.Lines = slices.Clone(o.Lines)
	return o
}

// Rejection is returned when a toggle is refused by the compatibility policy.
type Rejection struct {
	PlanID   plan.ID `json:"planId"`
	Code     string  `json:"code"`
	Reason   string  `json:"reason"`
	Conflict plan.ID `json:"conflictingPlanId,omitempty"`
}

func (r *Rejection) Error() string { return r.Reason }

// FailureKind classifies rejections as caller-correctable.
func (r *Rejection) FailureKind() failure.Kind { return failure.KindValidation }

// Details exposes the rejection in error responses.
func (r *Rejection) Details() any { return r }

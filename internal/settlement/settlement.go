// Package settlement splits one payment, and the change it produced, back
// across the lines of an order at commit time.
//
// Cash: each line receives its proportional share of the amount owed, rounded
// to cents with the rounding residue on the first line; the whole change is
// then reported on the first line only. Change is never split across lines.
//
// Digital: every line receives exactly its line total and there is no change.
package settlement

import (
	"errors"
	"fmt"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyOrder       = errors.New("settlement: order has no lines")
	ErrZeroTotal        = errors.New("settlement: order total is zero")
	ErrMissingReference = errors.New("settlement: reference number is required for digital payments")
	ErrDigitalAmount    = errors.New("settlement: digital payment must equal the order total")
	ErrUnknownMethod    = errors.New("settlement: unknown payment method")
	ErrNegativeAmount   = errors.New("settlement: amount received cannot be negative")
)

// divisionPrecision bounds intermediate proportional shares before rounding.
const divisionPrecision = 16

// Line is the settlement of one order line.
type Line struct {
	PlanID         plan.ID         `json:"planId"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	AmountReceived decimal.Decimal `json:"amountReceivedForLine"`
	Change         decimal.Decimal `json:"changeForLine"`
}

// Result is the full settlement of an order.
type Result struct {
	Method        order.PaymentMethod `json:"paymentMethod"`
	TotalExpected decimal.Decimal     `json:"totalExpected"`
	TotalReceived decimal.Decimal     `json:"totalReceived"`
	ChangeGiven   decimal.Decimal     `json:"changeGiven"`
	Lines         []Line              `json:"lines"`
}

// ShortfallError reports cash that does not cover the order.
type ShortfallError struct {
	Expected  decimal.Decimal
	Received  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient cash received: %s short of %s",
		money.Format(e.Shortfall), money.Format(e.Expected))
}

// FailureKind classifies shortfalls as caller-correctable.
func (e *ShortfallError) FailureKind() failure.Kind { return failure.KindValidation }

// Details reports the amounts so the caller can re-prompt for more cash.
func (e *ShortfallError) Details() any {
	return map[string]string{
		"expected":  money.Format(e.Expected),
		"received":  money.Format(e.Received),
		"shortfall": money.Format(e.Shortfall),
	}
}

// Validate checks that o can be settled without touching any store.
func Validate(o order.Order) error {
	_, err := Allocate(o)
	return err
}

// Allocate settles o. It refuses to run on invalid payments rather than
// producing a partial allocation.
func Allocate(o order.Order) (Result, error) {
	if o.Empty() {
		return Result{}, failure.Wrap(failure.KindValidation, ErrEmptyOrder)
	}
	expected := o.GrandTotal
	if !expected.IsPositive() {
		return Result{}, failure.Wrap(failure.KindValidation, ErrZeroTotal)
	}

	switch o.PaymentMethod {
	case order.PaymentCash:
		return allocateCash(o, expected)
	case order.PaymentDigital:
		return allocateDigital(o, expected)
	default:
		return Result{}, failure.Wrap(failure.KindValidation, fmt.Errorf("%w: %q", ErrUnknownMethod, o.PaymentMethod))
	}
}

func allocateCash(o order.Order, expected decimal.Decimal) (Result, error) {
	received := o.AmountReceived
	if received.IsNegative() {
		return Result{}, failure.Wrap(failure.KindValidation, ErrNegativeAmount)
	}
	if received.LessThan(expected) {
		return Result{}, &ShortfallError{
			Expected:  expected,
			Received:  received,
			Shortfall: expected.Sub(received),
		}
	}

	change := money.NonNegative(received.Sub(expected))
	owed := received.Sub(change)

	lines := make([]Line, len(o.Lines))
	allocated := decimal.Zero
	for i, l := range o.Lines {
		proportion := l.LineTotal.DivRound(expected, divisionPrecision)
		share := money.Round(owed.Mul(proportion))
		lines[i] = Line{
			PlanID:         l.PlanID,
			LineTotal:      l.LineTotal,
			AmountReceived: share,
			Change:         decimal.Zero,
		}
		allocated = allocated.Add(share)
	}

	// Rounding residue and the entire change land on line 0.
	lines[0].AmountReceived = lines[0].AmountReceived.Add(owed.Sub(allocated)).Add(change)
	lines[0].Change = change

	return Result{
		Method:        order.PaymentCash,
		TotalExpected: expected,
		TotalReceived: received,
		ChangeGiven:   change,
		Lines:         lines,
	}, nil
}

func allocateDigital(o order.Order, expected decimal.Decimal) (Result, error) {
	if o.ReferenceNumber == "" {
		return Result{}, failure.Wrap(failure.KindValidation, ErrMissingReference)
	}
	if !o.AmountReceived.IsZero() && !o.AmountReceived.Equal(expected) {
		return Result{}, failure.Wrap(failure.KindValidation, fmt.Errorf("%w: got %s, total %s",
			ErrDigitalAmount, money.Format(o.AmountReceived), money.Format(expected)))
	}

	lines := make([]Line, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = Line{
			PlanID:         l.PlanID,
			LineTotal:      l.LineTotal,
			AmountReceived: l.LineTotal,
			Change:         decimal.Zero,
		}
	}
	return Result{
		Method:        order.PaymentDigital,
		TotalExpected: expected,
		TotalReceived: expected,
		ChangeGiven:   decimal.Zero,
		Lines:         lines,
	}, nil
}

// ForPlan returns the settlement line for id.
func (r Result) ForPlan(id plan.ID) (Line, bool) {
	for _, l := range r.Lines {
		if l.PlanID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Package subscription records the subscription lines produced by committed
// orders. A line's receipt id is its primary key, which makes line creation
// idempotent: replaying a commit can never charge a member twice.
package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
)

var (
	ErrLineNotFound  = errors.New("subscription: line not found")
	ErrReceiptReused = errors.New("subscription: receipt id already used for a different line")
)

// Line is one purchased plan for one member.
type Line struct {
	ReceiptID       string               `json:"receiptId"`
	CommitID        string               `json:"commitId"`
	MemberID        string               `json:"memberId"`
	PlanID          plan.ID              `json:"planId"`
	PlanName        string               `json:"planName"`
	UnitLabel       string               `json:"unitLabel"`
	Quantity        int                  `json:"quantity"`
	UnitPrice       decimal.Decimal      `json:"unitPrice"`
	LineTotal       decimal.Decimal      `json:"lineTotal"`
	AmountReceived  decimal.Decimal      `json:"amountReceived"`
	Change          decimal.Decimal      `json:"change"`
	DiscountType    pricing.DiscountType `json:"discountType"`
	PaymentMethod   order.PaymentMethod  `json:"paymentMethod"`
	ReferenceNumber string               `json:"referenceNumber,omitempty"`
	StartDate       time.Time            `json:"startDate"`
	EndDate         *time.Time           `json:"endDate,omitempty"` // nil for non-periodic units
	CreatedAt       time.Time            `json:"createdAt"`
}

// ActiveAt reports whether the line still grants access at now.
func (l *Line) ActiveAt(now time.Time) bool {
	return l.EndDate == nil || l.EndDate.After(now)
}

// sameAs reports whether two lines describe the same purchase; used to tell a
// replay from a receipt-id collision.
func (l *Line) sameAs(o *Line) bool {
	return l.CommitID == o.CommitID && l.MemberID == o.MemberID &&
		l.PlanID == o.PlanID && l.Quantity == o.Quantity && l.LineTotal.Equal(o.LineTotal)
}

// EndDate returns when a subscription of quantity units starting at start
// ends. Only "year" and "month" units expire; anything else returns nil.
func EndDate(unitLabel string, start time.Time, quantity int) *time.Time {
	if quantity < 1 {
		quantity = 1
	}
	var end time.Time
	switch strings.ToLower(strings.TrimSpace(unitLabel)) {
	case "year", "yr", "annual":
		end = start.AddDate(quantity, 0, 0)
	case "month", "mo", "monthly":
		end = start.AddDate(0, quantity, 0)
	default:
		return nil
	}
	return &end
}

// Store persists subscription lines.
type Store interface {
	// CreateLine inserts line unless its receipt id already exists, in which
	// case the stored line is returned and created is false.
	CreateLine(ctx context.Context, line *Line) (stored *Line, created bool, err error)
	GetLine(ctx context.Context, receiptID string) (*Line, error)
	ListByMember(ctx context.Context, memberID string) ([]*Line, error)
	ListActiveByMember(ctx context.Context, memberID string, now time.Time) ([]*Line, error)
}

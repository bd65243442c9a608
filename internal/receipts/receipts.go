// Package receipts issues signed payment receipts for subscription lines.
//
// Every subscription line created by a commit gets a receipt whose id is the
// line's idempotency key; the receipt's HMAC signature lets front desk and
// members verify it was produced by this system.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
)

var (
	ErrReceiptNotFound  = errors.New("receipts: not found")
	ErrDuplicateReceipt = errors.New("receipts: receipt id already issued")
	ErrSigningDisabled  = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt is the signed proof of payment for one subscription line.
type Receipt struct {
	ID              string              `json:"id"`
	CommitID        string              `json:"commitId"`
	MemberID        string              `json:"memberId"`
	PlanID          plan.ID             `json:"planId"`
	Quantity        int                 `json:"quantity"`
	LineTotal       string              `json:"lineTotal"`
	AmountReceived  string              `json:"amountReceived"`
	Change          string              `json:"change"`
	PaymentMethod   order.PaymentMethod `json:"paymentMethod"`
	ReferenceNumber string              `json:"referenceNumber,omitempty"`
	PayloadHash     string              `json:"payloadHash"` // SHA-256 of canonical payload
	Signature       string              `json:"signature,omitempty"`
	IssuedAt        time.Time           `json:"issuedAt"`
}

// IssueRequest is the input for creating a receipt. ID is chosen by the
// caller so that re-issuing after a retry returns the same receipt.
type IssueRequest struct {
	ID              string
	CommitID        string
	MemberID        string
	PlanID          plan.ID
	Quantity        int
	LineTotal       string
	AmountReceived  string
	Change          string
	PaymentMethod   order.PaymentMethod
	ReferenceNumber string
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListByCommit(ctx context.Context, commitID string) ([]*Receipt, error)
	ListByMember(ctx context.Context, memberID string, limit int) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	AmountReceived  string `json:"amountReceived"`
	Change          string `json:"change"`
	CommitID        string `json:"commitId"`
	ID              string `json:"id"`
	LineTotal       string `json:"lineTotal"`
	MemberID        string `json:"memberId"`
	Method          string `json:"method"`
	PlanID          int    `json:"planId"`
	Quantity        int    `json:"quantity"`
	ReferenceNumber string `json:"referenceNumber"`
}

func payloadOf(r *Receipt) receiptPayload {
	return receiptPayload{
		AmountReceived:  r.AmountReceived,
		Change:          r.Change,
		CommitID:        r.CommitID,
		ID:              r.ID,
		LineTotal:       r.LineTotal,
		MemberID:        r.MemberID,
		Method:          string(r.PaymentMethod),
		PlanID:          int(r.PlanID),
		Quantity:        r.Quantity,
		ReferenceNumber: r.ReferenceNumber,
	}
}

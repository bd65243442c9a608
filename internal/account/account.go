// Package account implements the member account lifecycle:
//
//	pending ──approve──▶ approved ──deactivate──▶ deactivated
//	   │                    ▲  ▲                      │
//	   └──reject──▶ rejected┘  └──────reactivate──────┘
//	              (restore)
//
// There is no deletion; every other transition is refused.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/pagination"
)

var (
	ErrAccountNotFound   = errors.New("account: not found")
	ErrInvalidTransition = errors.New("account: invalid status transition")
	ErrDuplicateMember   = errors.New("account: member already registered")
	ErrReasonRequired    = errors.New("account: deactivation reason required")
	ErrUnknownReason     = errors.New("account: unknown deactivation reason")
	ErrInvalidStatus     = errors.New("account: unknown status")
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusDeactivated Status = "deactivated"
)

// ParseStatus validates a status filter value. Empty means "any".
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusPending, StatusApproved, StatusRejected, StatusDeactivated:
		return st, nil
	default:
		return "", failure.Wrap(failure.KindValidation, fmt.Errorf("%w: %q", ErrInvalidStatus, s))
	}
}

// Action is a lifecycle operation.
type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionDeactivate Action = "deactivate"
	ActionReactivate Action = "reactivate"
	ActionRestore    Action = "restore"
)

var transitions = map[Action]struct{ from, to Status }{
	ActionApprove:    {StatusPending, StatusApproved},
	ActionReject:     {StatusPending, StatusRejected},
	ActionDeactivate: {StatusApproved, StatusDeactivated},
	ActionReactivate: {StatusDeactivated, StatusApproved},
	ActionRestore:    {StatusRejected, StatusApproved},
}

// Next returns the status that action leads to from current.
func Next(current Status, action Action) (Status, error) {
	t, ok := transitions[action]
	if !ok || t.from != current {
		return current, &TransitionError{From: current, Action: action}
	}
	return t.to, nil
}

// TransitionError describes a refused transition.
type TransitionError struct {
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("account: cannot %s an account that is %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error             { return ErrInvalidTransition }
func (e *TransitionError) FailureKind() failure.Kind { return failure.KindConflict }

// ReasonCode selects a canned deactivation reason.
type ReasonCode string

const (
	ReasonNonPayment        ReasonCode = "non_payment"
	ReasonMembershipExpired ReasonCode = "membership_expired"
	ReasonPolicyViolation   ReasonCode = "policy_violation"
	ReasonMemberRequest     ReasonCode = "member_request"
	ReasonOther             ReasonCode = "other"
)

// CannedReasons maps reason codes to the text stored on the account.
var CannedReasons = map[ReasonCode]string{
	ReasonNonPayment:        "Non-payment of membership dues",
	ReasonMembershipExpired: "Membership expired",
	ReasonPolicyViolation:   "Violation of gym policy",
	ReasonMemberRequest:     "Deactivated at member's request",
}

// ResolveReason turns a code (plus free text for "other") into the stored
// reason string.
func ResolveReason(code ReasonCode, text string) (string, error) {
	code = ReasonCode(strings.ToLower(strings.TrimSpace(string(code))))
	if code == "" {
		return "", failure.Wrap(failure.KindValidation, ErrReasonRequired)
	}
	if code == ReasonOther {
		text = strings.TrimSpace(text)
		if text == "" {
			return "", failure.Wrap(failure.KindValidation,
				fmt.Errorf("%w: free text is mandatory for %q", ErrReasonRequired, ReasonOther))
		}
		return text, nil
	}
	canned, ok := CannedReasons[code]
	if !ok {
		return "", failure.Wrap(failure.KindValidation, fmt.Errorf("%w: %q", ErrUnknownReason, code))
	}
	return canned, nil
}

// Account is a gym member's account.
type Account struct {
	MemberID           string    `json:"memberId"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone,omitempty"`
	Status             Status    `json:"status"`
	DeactivationReason *string   `json:"deactivationReason,omitempty"` // set only while deactivated
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// StatusChange is a compare-and-set status update: it applies only while the
// account is still in From.
type StatusChange struct {
	MemberID string
	From     Status
	To       Status
	Reason   *string
	At       time.Time
}

// ListFilter selects a page of accounts in (created_at, member_id) order.
type ListFilter struct {
	Status Status
	After  *pagination.Cursor
	Limit  int
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, memberID string) (*Account, error)
	// SetStatus returns ErrInvalidTransition when the account is no longer
	// in change.From.
	SetStatus(ctx context.Context, change StatusChange) error
	List(ctx context.Context, filter ListFilter) ([]*Account, error)
}

// Package enrollment commits priced orders for members as a saga.
//
// A commit has an anchor step (the pending→approved status change, for
// approvals only) followed by idempotent steps: an optional discount tag add
// and one subscription line per order line, each keyed by its own receipt
// id. The anchor is never rolled back. When a later step fails the commit is
// left in partial_failure and can be retried; retries re-run only the steps
// that have not completed, with the same ids, so nothing is applied twice.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/mbd888/gymops/internal/settlement"
)

var (
	ErrCommitNotFound   = errors.New("enrollment: commit not found")
	ErrCommitFailed     = errors.New("enrollment: commit failed before its anchor step; submit a new commit")
	ErrCommitInProgress = errors.New("enrollment: commit is still running")
	ErrMemberNotPending = errors.New("enrollment: member is not pending approval")
	ErrMemberNotActive  = errors.New("enrollment: member is not approved")
	ErrDiscountMismatch = errors.New("enrollment: order discount does not match the member's eligibility")
	ErrIdempotencyKey   = errors.New("enrollment: idempotency key already used by another member")
)

// Kind distinguishes approval commits from purchases by approved members.
type Kind string

const (
	KindApproval Kind = "approval"
	KindPurchase Kind = "purchase"
)

// Status is the state of a commit.
type Status string

const (
	StatusPending        Status = "pending"
	StatusCompleted      Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// StepKind names what a step does.
type StepKind string

const (
	StepAnchor   StepKind = "anchor"
	StepDiscount StepKind = "discount"
	StepLine     StepKind = "line"
)

// StepState is the progress of one step.
type StepState string

const (
	StepPending StepState = "pending"
	StepDone    StepState = "done"
	StepFailed  StepState = "failed"
)

// Step is one unit of work inside a commit. Ref is the idempotency key the
// step writes with: the receipt id for lines, the tag id for discounts.
type Step struct {
	Kind        StepKind   `json:"kind"`
	PlanID      plan.ID    `json:"planId,omitempty"`
	Ref         string     `json:"ref,omitempty"`
	State       StepState  `json:"state"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Name identifies the step in logs and error reports.
func (s Step) Name() string {
	if s.Kind == StepLine {
		return fmt.Sprintf("line:%d", s.PlanID)
	}
	return string(s.Kind)
}

// DiscountRequest asks the commit to add a discount tag.
type DiscountRequest struct {
	Type       pricing.DiscountType `json:"discountType"`
	VerifiedBy string               `json:"verifiedBy"`
	ExpiresAt  *time.Time           `json:"expiresAt,omitempty"`
	Notes      string               `json:"notes,omitempty"`
}

// Commit is the persisted record of one saga run.
type Commit struct {
	ID         string            `json:"id"`
	MemberID   string            `json:"memberId"`
	Kind       Kind              `json:"kind"`
	Order      order.Order       `json:"order"`
	Settlement settlement.Result `json:"settlement"`
	Discount   *DiscountRequest  `json:"discount,omitempty"`
	Steps      []Step            `json:"steps"`
	Status     Status            `json:"status"`
	Runs       int               `json:"runs"`
	CreatedBy  string            `json:"createdBy,omitempty"` // operator who submitted it
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Pending returns the indices of steps that have not completed.
func (c *Commit) Pending() []int {
	var idx []int
	for i, s := range c.Steps {
		if s.State != StepDone {
			idx = append(idx, i)
		}
	}
	return idx
}

// AnchorDone reports whether the commit's anchor (if any) has been applied.
func (c *Commit) AnchorDone() bool {
	for _, s := range c.Steps {
		if s.Kind == StepAnchor {
			return s.State == StepDone
		}
	}
	return true
}

// MarkAnchorDone records the anchor step as applied at now.
func (c *Commit) MarkAnchorDone(now time.Time) {
	for i := range c.Steps {
		if c.Steps[i].Kind == StepAnchor && c.Steps[i].State != StepDone {
			c.Steps[i].State = StepDone
			c.Steps[i].Error, c.Steps[i].ErrorKind = "", ""
			c.Steps[i].CompletedAt = &now
		}
	}
}

// ReceiptIDs lists the receipt ids of the commit's lines in order.
func (c *Commit) ReceiptIDs() []string {
	var ids []string
	for _, s := range c.Steps {
		if s.Kind == StepLine {
			ids = append(ids, s.Ref)
		}
	}
	return ids
}

func (c *Commit) clone() *Commit {
	cp := *c
	cp.Steps = append([]Step(nil), c.Steps...)
	if c.Discount != nil {
		d := *c.Discount
		cp.Discount = &d
	}
	return &cp
}

// FailedStep describes a step that did not complete.
type FailedStep struct {
	Step      string  `json:"step"`
	PlanID    plan.ID `json:"planId,omitempty"`
	Ref       string  `json:"ref,omitempty"`
	ErrorKind string  `json:"errorKind"`
	Error     string  `json:"error"`
}

// PartialCommitError reports a commit whose anchor succeeded while one or
// more follow-up steps failed.
type PartialCommitError struct {
	CommitID string       `json:"commitId"`
	MemberID string       `json:"memberId"`
	Failed   []FailedStep `json:"failed"`
}

func (e *PartialCommitError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Step
	}
	return fmt.Sprintf("commit %s partially applied; failed steps: %s (retry the commit to finish them)",
		e.CommitID, strings.Join(names, ", "))
}

// FailureKind classifies the error for callers.
func (e *PartialCommitError) FailureKind() failure.Kind { return failure.KindPartialCommit }

// Details lists the failed steps in error responses.
func (e *PartialCommitError) Details() any { return e }

func partialError(c *Commit) *PartialCommitError {
	pe := &PartialCommitError{CommitID: c.ID, MemberID: c.MemberID}
	for _, s := range c.Steps {
		if s.State == StepFailed {
			pe.Failed = append(pe.Failed, FailedStep{
				Step: s.Name(), PlanID: s.PlanID, Ref: s.Ref, ErrorKind: s.ErrorKind, Error: s.Error,
			})
		}
	}
	return pe
}

// CommitStore persists commit records.
type CommitStore interface {
	Create(ctx context.Context, c *Commit) error
	Get(ctx context.Context, id string) (*Commit, error)
	Update(ctx context.Context, c *Commit) error
	ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Commit, error)
	ListByMember(ctx context.Context, memberID string, limit int) ([]*Commit, error)
}

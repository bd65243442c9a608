package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/gymops/internal/account"
	"github.com/mbd888/gymops/internal/discount"
	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/idgen"
	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/mbd888/gymops/internal/receipts"
	"github.com/mbd888/gymops/internal/retry"
	"github.com/mbd888/gymops/internal/settlement"
	"github.com/mbd888/gymops/internal/subscription"
	"github.com/mbd888/gymops/internal/syncutil"
	"github.com/mbd888/gymops/internal/traces"
	"github.com/mbd888/gymops/internal/validation"
)

// Accounts is the member directory the anchor step writes to.
type Accounts interface {
	Get(ctx context.Context, memberID string) (*account.Account, error)
	Approve(ctx context.Context, memberID string) (*account.Account, error)
}

// Discounts is the discount tag tracker.
type Discounts interface {
	GetActive(ctx context.Context, memberID string) (*discount.Tag, error)
	ValidateAdd(req discount.AddRequest) error
	Add(ctx context.Context, req discount.AddRequest) (*discount.Tag, error)
}

// Subscriptions is the payment ledger lines are written to.
type Subscriptions interface {
	CreateLine(ctx context.Context, line *subscription.Line) (*subscription.Line, error)
	ActivePlanIDs(ctx context.Context, memberID string) ([]plan.ID, error)
}

// ReceiptIssuer signs a receipt per created line.
type ReceiptIssuer interface {
	Issue(ctx context.Context, req receipts.IssueRequest) (*receipts.Receipt, error)
}

// CommitRequest is an order commit for one member.
type CommitRequest struct {
	MemberID       string            `json:"-"`
	IdempotencyKey string            `json:"-"` // becomes the commit id
	Selections     []order.Selection `json:"selections"`
	DiscountType   string            `json:"discountType"` // optional: the discount the client priced with
	Payment        PaymentRequest    `json:"payment"`
	StartDate      *time.Time        `json:"startDate"`
	Notes          string            `json:"notes"`
	Discount       *DiscountRequest  `json:"discount"`
	Operator       string            `json:"-"`
}

// Service runs commits.
type Service struct {
	builder   *order.Builder
	store     CommitStore
	accounts  Accounts
	discounts Discounts
	lines     Subscriptions
	receipts  ReceiptIssuer
	policy    retry.Policy
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
	locks     syncutil.ContextShardedMutex // per-member: commits and retries for a member never interleave
}

// NewService creates a new enrollment service.
func NewService(builder *order.Builder, store CommitStore, accounts Accounts, discounts Discounts,
	lines Subscriptions, issuer ReceiptIssuer) *Service {
	return &Service{
		builder:   builder,
		store:     store,
		accounts:  accounts,
		discounts: discounts,
		lines:     lines,
		receipts:  issuer,
		policy:    retry.DefaultPolicy,
		timeout:   30 * time.Second,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRetryPolicy sets the per-step retry policy.
func (s *Service) WithRetryPolicy(p retry.Policy) *Service {
	s.policy = p
	return s
}

// WithTimeout bounds how long the steps after the anchor may run.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Builder returns the order builder commits are priced with.
func (s *Service) Builder() *order.Builder { return s.builder }

// lockMember serialises work for one member. Waiting ends with ctx.
func (s *Service) lockMember(ctx context.Context, memberID string) (func(), error) {
	unlock, err := s.locks.LockContext(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("enrollment: wait for member %s: %w", memberID, err)
	}
	return unlock, nil
}

// Approve approves a pending member with no purchase.
func (s *Service) Approve(ctx context.Context, memberID string) (*account.Account, error) {
	unlock, err := s.lockMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.accounts.Approve(ctx, memberID)
}

// ApproveWithOrder approves a pending member and commits their first order
// (and optional discount tag) as one saga anchored on the approval.
func (s *Service) ApproveWithOrder(ctx context.Context, req CommitRequest) (*Commit, error) {
	return s.commit(ctx, KindApproval, req)
}

// Purchase commits an order for an already approved member.
func (s *Service) Purchase(ctx context.Context, req CommitRequest) (*Commit, error) {
	return s.commit(ctx, KindPurchase, req)
}

// Get returns a commit record.
func (s *Service) Get(ctx context.Context, id string) (*Commit, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCommitNotFound) {
			return nil, failure.NotFound(err)
		}
		return nil, failure.External("enrollment.get", err)
	}
	return c, nil
}

// ListByMember returns a member's most recent commits.
func (s *Service) ListByMember(ctx context.Context, memberID string, limit int) ([]*Commit, error) {
	cs, err := s.store.ListByMember(ctx, memberID, limit)
	if err != nil {
		return nil, failure.External("enrollment.list", err)
	}
	return cs, nil
}

func (s *Service) commit(ctx context.Context, kind Kind, req CommitRequest) (c *Commit, err error) {
	ctx, span := traces.StartSpan(ctx, "enrollment."+string(kind), traces.MemberID(req.MemberID))
	done := observeCommit(kind)
	defer func() {
		done(c, err)
		traces.End(span, err)
	}()

	// Request-shape validation; no store is consulted yet.
	if err := s.validate(req); err != nil {
		return nil, err
	}

	unlock, err := s.lockMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.IdempotencyKey != "" {
		existing, err := s.store.Get(ctx, req.IdempotencyKey)
		switch {
		case err == nil && existing.MemberID != req.MemberID:
			return nil, failure.Conflict(ErrIdempotencyKey)
		case err == nil:
			return existing, outcome(existing)
		case !errors.Is(err, ErrCommitNotFound):
			return nil, failure.External("enrollment.get", err)
		}
	}

	o, result, err := s.price(ctx, kind, req)
	if err != nil {
		return nil, err
	}

	c = s.newCommit(kind, req, o, result)
	if err := s.store.Create(ctx, c); err != nil {
		return nil, failure.External("enrollment.create", err)
	}
	span.SetAttributes(traces.CommitID(c.ID))
	s.logger.Info("commit started", "commit_id", c.ID, "member_id", c.MemberID, "kind", kind,
		"lines", len(o.Lines), "total", money.Format(o.GrandTotal))

	return c, s.run(ctx, c)
}

func (s *Service) validate(req CommitRequest) error {
	if errs := validation.Validate(
		validation.Required("memberId", req.MemberID),
		validation.MaxLength("idempotencyKey", req.IdempotencyKey, 64),
		validation.MaxLength("notes", req.Notes, validation.MaxNotesLength),
	); len(errs) > 0 {
		return failure.Validation("%s", errs.Error())
	}
	if _, err := Price(s.builder, req.MemberID, pricing.DiscountNone, req.Selections); err != nil {
		return err
	}
	if _, err := ApplyPayment(order.Order{}, req.Payment); err != nil {
		return err
	}
	if req.Discount != nil {
		return s.discounts.ValidateAdd(discountAdd(req.MemberID, "", req.Discount))
	}
	return nil
}

// price reads the member's state and prices the order with the effective
// discount: the tag being added by this commit, else the active tag.
func (s *Service) price(ctx context.Context, kind Kind, req CommitRequest) (order.Order, settlement.Result, error) {
	var none settlement.Result

	acct, err := s.accounts.Get(ctx, req.MemberID)
	if err != nil {
		return order.Order{}, none, err
	}
	switch {
	case kind == KindApproval && acct.Status != account.StatusPending:
		return order.Order{}, none, failure.Conflict(fmt.Errorf("%w (status %s)", ErrMemberNotPending, acct.Status))
	case kind == KindPurchase && acct.Status != account.StatusApproved:
		return order.Order{}, none, failure.Conflict(fmt.Errorf("%w (status %s)", ErrMemberNotActive, acct.Status))
	}

	active, err := s.discounts.GetActive(ctx, req.MemberID)
	if err != nil {
		return order.Order{}, none, err
	}
	effective := pricing.DiscountNone
	switch {
	case req.Discount != nil && active != nil:
		return order.Order{}, none, failure.Conflict(fmt.Errorf("%w (%s tag %s)", discount.ErrActiveTagExists, active.Type, active.ID))
	case req.Discount != nil:
		effective = pricing.ParseDiscountType(string(req.Discount.Type))
	case active != nil:
		effective = active.Type
	}
	if req.DiscountType != "" && pricing.ParseDiscountType(req.DiscountType) != effective {
		return order.Order{}, none, failure.Wrap(failure.KindValidation,
			fmt.Errorf("%w: priced with %q, member is eligible for %q", ErrDiscountMismatch, req.DiscountType, effective))
	}

	var held []plan.ID
	if kind == KindPurchase {
		if held, err = s.lines.ActivePlanIDs(ctx, req.MemberID); err != nil {
			return order.Order{}, none, err
		}
	}

	o, err := Price(s.builder, req.MemberID, effective, req.Selections)
	if err != nil {
		return o, none, err
	}
	if o, err = ApplyPayment(o, req.Payment); err != nil {
		return o, none, err
	}
	start := s.now()
	if req.StartDate != nil {
		start = *req.StartDate
	}
	o = o.WithStartDate(start).WithNotes(validation.SanitizeString(req.Notes, validation.MaxNotesLength)).MarkRenewals(held)

	result, err := settlement.Allocate(o)
	return o, result, err
}

func (s *Service) newCommit(kind Kind, req CommitRequest, o order.Order, result settlement.Result) *Commit {
	now := s.now()
	c := &Commit{
		ID:         req.IdempotencyKey,
		MemberID:   req.MemberID,
		Kind:       kind,
		Order:      o,
		Settlement: result,
		Status:     StatusPending,
		CreatedBy:  req.Operator,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.ID == "" {
		c.ID = idgen.Ordered("cmt_")
	}
	if kind == KindApproval {
		c.Steps = append(c.Steps, Step{Kind: StepAnchor, State: StepPending})
	}
	if req.Discount != nil {
		d := *req.Discount
		d.Type = pricing.ParseDiscountType(string(d.Type))
		c.Discount = &d
		c.Steps = append(c.Steps, Step{Kind: StepDiscount, Ref: idgen.WithPrefix("dsc_"), State: StepPending})
	}
	for _, l := range o.Lines {
		c.Steps = append(c.Steps, Step{Kind: StepLine, PlanID: l.PlanID, Ref: idgen.WithPrefix("rcp_"), State: StepPending})
	}
	return c
}

// run executes every pending step of c. The caller holds the member lock.
func (s *Service) run(ctx context.Context, c *Commit) error {
	c.Runs++

	// Past the anchor the commit must run to completion: follow-up steps
	// ignore request cancellation and are bounded by the commit timeout.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	for _, i := range c.Pending() {
		step := &c.Steps[i]
		if step.Kind == StepAnchor {
			if err := s.runStep(ctx, c, step); err != nil {
				c.Status = StatusFailed
				s.save(detached, c)
				s.logger.Error("commit anchor failed; nothing applied",
					"commit_id", c.ID, "member_id", c.MemberID, "error", err)
				return fmt.Errorf("commit %s: %w", c.ID, err)
			}
			continue
		}
		_ = s.runStep(detached, c, step)
	}

	if len(c.Pending()) == 0 {
		c.Status = StatusCompleted
		s.save(detached, c)
		s.logger.Info("commit completed", "commit_id", c.ID, "member_id", c.MemberID, "runs", c.Runs)
		return nil
	}
	c.Status = StatusPartialFailure
	s.save(detached, c)
	pe := partialError(c)
	s.logger.Error("commit partially applied", "commit_id", c.ID, "member_id", c.MemberID,
		"failed_steps", len(pe.Failed), "receipt_ids", c.ReceiptIDs())
	return pe
}

func (s *Service) runStep(ctx context.Context, c *Commit, step *Step) error {
	attempts, err := s.policy.Do(ctx, func() error { return s.apply(ctx, c, step) })
	step.Attempts += attempts
	if err != nil {
		step.State = StepFailed
		step.Error = err.Error()
		step.ErrorKind = string(failure.KindOf(err))
		StepFailuresTotal.WithLabelValues(string(step.Kind), step.ErrorKind).Inc()
		s.logger.Error("commit step failed", "commit_id", c.ID, "step", step.Name(),
			"ref", step.Ref, "attempts", attempts, "error", err)
	} else {
		now := s.now()
		step.State = StepDone
		step.Error, step.ErrorKind = "", ""
		step.CompletedAt = &now
	}
	s.save(ctx, c)
	return err
}

func (s *Service) apply(ctx context.Context, c *Commit, step *Step) error {
	switch step.Kind {
	case StepAnchor:
		_, err := s.accounts.Approve(ctx, c.MemberID)
		if err != nil && s.anchorApplied(ctx, c.MemberID) {
			// An earlier attempt changed the status but its reply was lost.
			s.logger.Warn("approval already applied; treating anchor as done",
				"commit_id", c.ID, "member_id", c.MemberID, "error", err)
			return nil
		}
		return err
	case StepDiscount:
		_, err := s.discounts.Add(ctx, discountAdd(c.MemberID, step.Ref, c.Discount))
		return err
	case StepLine:
		return s.applyLine(ctx, c, step)
	}
	return retry.Permanent(fmt.Errorf("enrollment: unknown step kind %q", step.Kind))
}

func (s *Service) applyLine(ctx context.Context, c *Commit, step *Step) error {
	ol, ok := c.Order.Line(step.PlanID)
	if !ok {
		return retry.Permanent(failure.Validation("commit %s has no order line for plan %d", c.ID, step.PlanID))
	}
	sl, _ := c.Settlement.ForPlan(step.PlanID)

	line := &subscription.Line{
		ReceiptID:       step.Ref,
		CommitID:        c.ID,
		MemberID:        c.MemberID,
		PlanID:          ol.PlanID,
		PlanName:        ol.PlanName,
		UnitLabel:       ol.UnitLabel,
		Quantity:        ol.Quantity,
		UnitPrice:       ol.UnitPrice,
		LineTotal:       ol.LineTotal,
		AmountReceived:  sl.AmountReceived,
		Change:          sl.Change,
		DiscountType:    c.Order.DiscountType,
		PaymentMethod:   c.Order.PaymentMethod,
		ReferenceNumber: c.Order.ReferenceNumber,
		StartDate:       c.Order.StartDate,
	}
	if _, err := s.lines.CreateLine(ctx, line); err != nil {
		return err
	}
	if s.receipts == nil {
		return nil
	}
	_, err := s.receipts.Issue(ctx, receipts.IssueRequest{
		ID:              step.Ref,
		CommitID:        c.ID,
		MemberID:        c.MemberID,
		PlanID:          ol.PlanID,
		Quantity:        ol.Quantity,
		LineTotal:       money.Format(ol.LineTotal),
		AmountReceived:  money.Format(sl.AmountReceived),
		Change:          money.Format(sl.Change),
		PaymentMethod:   c.Order.PaymentMethod,
		ReferenceNumber: c.Order.ReferenceNumber,
	})
	return err
}

// save persists progress. A failed write is logged, not returned: the steps
// it records are idempotent and the reconciler picks up stale records.
func (s *Service) save(ctx context.Context, c *Commit) {
	c.UpdatedAt = s.now()
	if err := s.store.Update(ctx, c); err != nil {
		s.logger.Error("failed to persist commit progress", "commit_id", c.ID, "status", c.Status, "error", err)
	}
}

// Retry re-runs the unfinished steps of a partially applied commit with the
// same receipt ids. Completed commits are returned unchanged.
func (s *Service) Retry(ctx context.Context, id string) (c *Commit, err error) {
	ctx, span := traces.StartSpan(ctx, "enrollment.retry", traces.CommitID(id))
	defer func() { traces.End(span, err) }()

	c, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockMember(ctx, c.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock; a concurrent run may have finished it.
	if c, err = s.Get(ctx, id); err != nil {
		return nil, err
	}

	switch c.Status {
	case StatusCompleted:
		return c, nil
	case StatusFailed:
		return c, failure.Conflict(ErrCommitFailed)
	case StatusPending:
		if s.now().Sub(c.UpdatedAt) < s.timeout {
			return c, failure.Conflict(ErrCommitInProgress)
		}
		if !c.AnchorDone() {
			if !s.anchorApplied(ctx, c.MemberID) {
				// The run died before its anchor; nothing was applied.
				c.Status = StatusFailed
				s.save(context.WithoutCancel(ctx), c)
				return c, failure.Conflict(ErrCommitFailed)
			}
			// The run died after the status change but before recording it.
			c.MarkAnchorDone(s.now())
		}
	}

	err = s.run(ctx, c)
	result := "completed"
	if err != nil {
		result = string(failure.KindOf(err))
	}
	RetriesTotal.WithLabelValues(result).Inc()
	return c, err
}

// anchorApplied reports whether the member is already approved. Commits
// that carry an anchor step were validated against a pending account under
// the member lock, so an approved account means the anchor took effect.
func (s *Service) anchorApplied(ctx context.Context, memberID string) bool {
	a, err := s.accounts.Get(ctx, memberID)
	return err == nil && a.Status == account.StatusApproved
}

// outcome maps a stored commit to the error its original caller saw.
func outcome(c *Commit) error {
	switch c.Status {
	case StatusPartialFailure:
		return partialError(c)
	case StatusFailed:
		return failure.Conflict(ErrCommitFailed)
	}
	return nil
}

func discountAdd(memberID, id string, d *DiscountRequest) discount.AddRequest {
	return discount.AddRequest{
		ID:         id,
		MemberID:   memberID,
		Type:       d.Type,
		VerifiedBy: d.VerifiedBy,
		ExpiresAt:  d.ExpiresAt,
		Notes:      d.Notes,
	}
}

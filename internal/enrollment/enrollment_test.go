package enrollment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gymops/internal/account"
	"github.com/mbd888/gymops/internal/discount"
	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/mbd888/gymops/internal/receipts"
	"github.com/mbd888/gymops/internal/retry"
	"github.com/mbd888/gymops/internal/subscription"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// flakyAccounts fails Approve while failing is set. With lostAck set, the
// next Approve applies the change and then reports a transport error.
type flakyAccounts struct {
	*account.Service
	failing atomic.Bool
	lostAck atomic.Bool
}

func (f *flakyAccounts) Approve(ctx context.Context, id string) (*account.Account, error) {
	if f.failing.Load() {
		return nil, failure.External("account.set_status", errStoreDown)
	}
	if f.lostAck.CompareAndSwap(true, false) {
		if _, err := f.Service.Approve(ctx, id); err != nil {
			return nil, err
		}
		return nil, failure.External("account.set_status", errStoreDown)
	}
	return f.Service.Approve(ctx, id)
}

// flakyLines fails line creation for one plan while failPlan is set.
type flakyLines struct {
	*subscription.Service
	failPlan atomic.Int64
	calls    atomic.Int64
}

func (f *flakyLines) CreateLine(ctx context.Context, l *subscription.Line) (*subscription.Line, error) {
	f.calls.Add(1)
	if int64(l.PlanID) == f.failPlan.Load() {
		return nil, failure.External("subscription.create_line", errStoreDown)
	}
	return f.Service.CreateLine(ctx, l)
}

type harness struct {
	svc       *Service
	store     *MemoryStore
	accounts  *flakyAccounts
	discounts *discount.Service
	lines     *flakyLines
	lineStore *subscription.MemoryStore
	receipts  *receipts.Service
	clock     *fakeClock
}

func testCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	c, err := plan.NewCatalog([]plan.Plan{
		{ID: plan.PlanMembership, Name: "Annual Membership", BasePrice: money.MustParse("999"), UnitLabel: "year", Available: true},
		{ID: plan.PlanMonthlyStandard, Name: "Standard Monthly Access", BasePrice: money.MustParse("1500"), UnitLabel: "month", Available: true},
		{ID: plan.PlanMonthlyPremium, Name: "Premium Monthly Access", BasePrice: money.MustParse("999"), UnitLabel: "month", Available: true},
		{ID: plan.PlanPersonalTraining, Name: "Personal Training Session", BasePrice: money.MustParse("500"), UnitLabel: "session", Available: true},
	})
	require.NoError(t, err)
	return c
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	h := &harness{
		store:     NewMemoryStore(),
		accounts:  &flakyAccounts{Service: account.NewService(account.NewMemoryStore()).WithClock(clock.Now)},
		discounts: discount.NewService(discount.NewMemoryStore()).WithClock(clock.Now),
		lineStore: subscription.NewMemoryStore(),
		receipts:  receipts.NewService(receipts.NewMemoryStore(), receipts.NewSigner("test-secret")),
		clock:     clock,
	}
	h.lines = &flakyLines{Service: subscription.NewService(h.lineStore).WithClock(clock.Now)}
	h.svc = NewService(order.NewBuilder(testCatalog(t)), h.store, h.accounts, h.discounts, h.lines, h.receipts).
		WithClock(clock.Now).
		WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	return h
}

func (h *harness) register(t *testing.T, email string) string {
	t.Helper()
	a, err := h.accounts.Register(context.Background(), account.RegisterRequest{Name: "Ana Cruz", Email: email})
	require.NoError(t, err)
	return a.MemberID
}

func (h *harness) status(t *testing.T, memberID string) account.Status {
	t.Helper()
	a, err := h.accounts.Get(context.Background(), memberID)
	require.NoError(t, err)
	return a.Status
}

func cash(amount string) PaymentRequest {
	return PaymentRequest{Method: "cash", AmountReceived: amount}
}

func membershipAndTraining(member string) CommitRequest {
	return CommitRequest{
		MemberID: member,
		Selections: []order.Selection{
			{PlanID: plan.PlanMembership, Quantity: 1},
			{PlanID: plan.PlanPersonalTraining, Quantity: 1},
		},
		Payment: cash("2000"),
	}
}

func TestApproveWithOrder_Completes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "ana@example.com")

	c, err := h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, c.Status)
	assert.Equal(t, KindApproval, c.Kind)
	assert.Equal(t, account.StatusApproved, h.status(t, member))
	assert.Equal(t, "1499.00", money.Format(c.Order.GrandTotal))
	assert.Equal(t, "501.00", money.Format(c.Settlement.ChangeGiven))
	require.Len(t, c.Steps, 3)
	assert.Equal(t, StepAnchor, c.Steps[0].Kind)

	lines, err := h.lines.List(ctx, member, false)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	received, change := decimal.Zero, decimal.Zero
	for _, l := range lines {
		received = received.Add(l.AmountReceived)
		change = change.Add(l.Change)
	}
	assert.Equal(t, "2000.00", money.Format(received))
	assert.True(t, received.Sub(change).Equal(c.Order.GrandTotal))

	for _, id := range c.ReceiptIDs() {
		r, err := h.receipts.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, c.ID, r.CommitID)
		v, err := h.receipts.Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, v.Valid)
	}

	stored, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Runs)
}

func TestApproveWithOrder_AddsDiscountAndPricesWithIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "ben@example.com")

	expires := h.clock.Now().AddDate(0, 6, 0)
	c, err := h.svc.ApproveWithOrder(ctx, CommitRequest{
		MemberID:   member,
		Selections: []order.Selection{{PlanID: plan.PlanMonthlyStandard}},
		Payment:    cash("1400"),
		Discount:   &DiscountRequest{Type: pricing.DiscountStudent, VerifiedBy: "desk", ExpiresAt: &expires},
	})
	require.NoError(t, err)
	assert.Equal(t, pricing.DiscountStudent, c.Order.DiscountType)
	assert.Equal(t, "1400.00", money.Format(c.Order.GrandTotal))

	tag, err := h.discounts.GetActive(ctx, member)
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, c.Steps[1].Ref, tag.ID)
}

func TestApproveWithOrder_PartialFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "cy@example.com")

	h.lines.failPlan.Store(int64(plan.PlanPersonalTraining))
	c, err := h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.Error(t, err)

	var pe *PartialCommitError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, failure.KindPartialCommit, failure.KindOf(err))
	require.Len(t, pe.Failed, 1)
	assert.Equal(t, "line:5", pe.Failed[0].Step)
	assert.Equal(t, string(failure.KindExternal), pe.Failed[0].ErrorKind)

	// The anchor stays applied.
	assert.Equal(t, account.StatusApproved, h.status(t, member))
	assert.Equal(t, StatusPartialFailure, c.Status)
	assert.Equal(t, 1, h.lineStore.Len())
	assert.Equal(t, 2, c.Steps[2].Attempts)
	receiptIDs := c.ReceiptIDs()

	h.lines.failPlan.Store(0)
	retried, err := h.svc.Retry(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, retried.Status)
	assert.Equal(t, receiptIDs, retried.ReceiptIDs())
	assert.Equal(t, 2, retried.Runs)
	assert.Equal(t, 2, h.lineStore.Len())

	// A second retry of a completed commit changes nothing.
	again, err := h.svc.Retry(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Runs)
	assert.Equal(t, 2, h.lineStore.Len())
}

func TestApproveWithOrder_AnchorFailureAppliesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "dee@example.com")

	h.accounts.failing.Store(true)
	c, err := h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.Error(t, err)
	assert.Equal(t, failure.KindExternal, failure.KindOf(err))
	assert.Equal(t, StatusFailed, c.Status)
	assert.Equal(t, account.StatusPending, h.status(t, member))
	assert.Zero(t, h.lines.calls.Load())

	h.accounts.failing.Store(false)
	_, err = h.svc.Retry(ctx, c.ID)
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, failure.KindConflict, failure.KindOf(err))
}

func TestApproveWithOrder_IdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "eve@example.com")

	req := membershipAndTraining(member)
	req.IdempotencyKey = "desk-42"
	first, err := h.svc.ApproveWithOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "desk-42", first.ID)

	second, err := h.svc.ApproveWithOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ReceiptIDs(), second.ReceiptIDs())
	assert.Equal(t, 2, h.lineStore.Len())

	other := h.register(t, "frank@example.com")
	req.MemberID = other
	_, err = h.svc.ApproveWithOrder(ctx, req)
	require.ErrorIs(t, err, ErrIdempotencyKey)
}

func TestCommit_RejectsBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CommitRequest)
		kind   failure.Kind
	}{
		{"shortfall", func(r *CommitRequest) { r.Payment = cash("1000") }, failure.KindValidation},
		{"no selections", func(r *CommitRequest) { r.Selections = nil }, failure.KindValidation},
		{"negative quantity", func(r *CommitRequest) { r.Selections[0].Quantity = -1 }, failure.KindValidation},
		{"bad method", func(r *CommitRequest) { r.Payment.Method = "cheque" }, failure.KindValidation},
		{"digital without reference", func(r *CommitRequest) {
			r.Payment = PaymentRequest{Method: "digital", AmountReceived: "1499"}
		}, failure.KindValidation},
		{"premium without membership", func(r *CommitRequest) {
			r.Selections = []order.Selection{{PlanID: plan.PlanMonthlyPremium}}
		}, failure.KindValidation},
		{"discount without verifier", func(r *CommitRequest) {
			r.Discount = &DiscountRequest{Type: pricing.DiscountSenior}
		}, failure.KindValidation},
		{"discount mismatch", func(r *CommitRequest) { r.DiscountType = "senior" }, failure.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			member := h.register(t, "gil@example.com")
			req := membershipAndTraining(member)
			tt.mutate(&req)

			_, err := h.svc.ApproveWithOrder(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.KindOf(err), err.Error())
			assert.Equal(t, account.StatusPending, h.status(t, member))
			assert.Zero(t, h.lineStore.Len())
			cs, err := h.svc.ListByMember(context.Background(), member, 10)
			require.NoError(t, err)
			assert.Empty(t, cs)
		})
	}
}

func TestApproveWithOrder_DiscountConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "hal@example.com")
	_, err := h.discounts.Add(ctx, discount.AddRequest{MemberID: member, Type: pricing.DiscountSenior, VerifiedBy: "desk"})
	require.NoError(t, err)

	req := membershipAndTraining(member)
	req.Discount = &DiscountRequest{Type: pricing.DiscountStudent, VerifiedBy: "desk"}
	_, err = h.svc.ApproveWithOrder(ctx, req)
	require.ErrorIs(t, err, discount.ErrActiveTagExists)
	assert.Equal(t, failure.KindConflict, failure.KindOf(err))
	assert.Equal(t, account.StatusPending, h.status(t, member))
}

func TestApproveWithOrder_MemberNotPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "ivy@example.com")
	_, err := h.svc.Approve(ctx, member)
	require.NoError(t, err)

	_, err = h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.ErrorIs(t, err, ErrMemberNotPending)
	assert.Equal(t, failure.KindConflict, failure.KindOf(err))

	_, err = h.svc.ApproveWithOrder(ctx, membershipAndTraining("mbr_missing"))
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
}

func TestPurchase_UsesActiveDiscountAndMarksRenewals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "jo@example.com")

	_, err := h.svc.Purchase(ctx, membershipAndTraining(member))
	require.ErrorIs(t, err, ErrMemberNotActive)

	_, err = h.svc.ApproveWithOrder(ctx, CommitRequest{
		MemberID:   member,
		Selections: []order.Selection{{PlanID: plan.PlanMembership}},
		Payment:    cash("999"),
		Discount:   &DiscountRequest{Type: pricing.DiscountSenior, VerifiedBy: "desk"},
	})
	require.NoError(t, err)

	c, err := h.svc.Purchase(ctx, CommitRequest{
		MemberID: member,
		Selections: []order.Selection{
			{PlanID: plan.PlanMembership},
			{PlanID: plan.PlanMonthlyPremium, Quantity: 2},
		},
		DiscountType: "senior",
		Payment:      PaymentRequest{Method: "digital", AmountReceived: "2599", ReferenceNumber: "GC-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindPurchase, c.Kind)
	// 999 + 2 × (999 - 199)
	assert.Equal(t, "2599.00", money.Format(c.Order.GrandTotal))
	assert.True(t, c.Order.Lines[0].Renewal)
	assert.False(t, c.Order.Lines[1].Renewal)
	require.Len(t, c.Steps, 2)
	assert.True(t, c.Settlement.ChangeGiven.IsZero())
}

func TestRetry_StalePendingCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "kai@example.com")

	stuck := &Commit{
		ID: "cmt_stuck", MemberID: member, Kind: KindApproval, Status: StatusPending,
		Steps:     []Step{{Kind: StepAnchor, State: StepPending}},
		CreatedAt: h.clock.Now(), UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, h.store.Create(ctx, stuck))

	_, err := h.svc.Retry(ctx, stuck.ID)
	require.ErrorIs(t, err, ErrCommitInProgress)

	h.clock.Advance(time.Hour)
	c, err := h.svc.Retry(ctx, stuck.ID)
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, StatusFailed, c.Status)
	assert.Equal(t, account.StatusPending, h.status(t, member))

	_, err = h.svc.Retry(ctx, "cmt_nope")
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
}

func TestApproveWithOrder_LostApprovalAckStillCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "noa@example.com")

	h.accounts.lostAck.Store(true)
	c, err := h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)
	assert.True(t, c.AnchorDone())
	assert.Equal(t, account.StatusApproved, h.status(t, member))
	assert.Equal(t, 2, h.lineStore.Len())
}

func TestRetry_StalePendingCommitWithAppliedApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "eli@example.com")

	// The run approved the member and died before recording the anchor.
	_, err := h.accounts.Service.Approve(ctx, member)
	require.NoError(t, err)
	stuck := &Commit{
		ID: "cmt_died", MemberID: member, Kind: KindApproval, Status: StatusPending,
		Steps:     []Step{{Kind: StepAnchor, State: StepPending}},
		CreatedAt: h.clock.Now(), UpdatedAt: h.clock.Now(),
	}
	require.NoError(t, h.store.Create(ctx, stuck))

	h.clock.Advance(time.Hour)
	c, err := h.svc.Retry(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)
	assert.True(t, c.AnchorDone())
}

func TestReconciler_SweepFinishesPartialCommits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "lu@example.com")

	h.lines.failPlan.Store(int64(plan.PlanMembership))
	c, err := h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.Error(t, err)

	r := NewReconciler(h.svc, h.store, h.svc.logger)
	h.clock.Advance(time.Second)
	assert.Equal(t, 0, r.Sweep(ctx))

	h.lines.failPlan.Store(0)
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, r.Sweep(ctx))

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, h.lineStore.Len())
	assert.Equal(t, 0, r.Sweep(ctx))
}

func TestReconciler_BacksOffRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.register(t, "vi@example.com")

	h.lines.failPlan.Store(int64(plan.PlanMembership))
	c, err := h.svc.ApproveWithOrder(ctx, membershipAndTraining(member))
	require.Error(t, err)

	r := NewReconciler(h.svc, h.store, h.svc.logger).WithBackoff(3, 10*time.Minute)
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		assert.Equal(t, 0, r.Sweep(ctx))
	}

	before := h.lines.calls.Load()
	h.clock.Advance(time.Second)
	assert.Equal(t, 0, r.Sweep(ctx))
	assert.Equal(t, before, h.lines.calls.Load(), "commit skipped while backing off")

	h.lines.failPlan.Store(0)
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, r.Sweep(ctx))

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestReconciler_StartStop(t *testing.T) {
	h := newHarness(t)
	r := NewReconciler(h.svc, h.store, h.svc.logger).WithInterval(time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()
	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
	assert.False(t, r.Running())
}

// blockingCommits parks the first ListByStatus call until release closes.
type blockingCommits struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingCommits) ListByStatus(ctx context.Context, status Status, before time.Time, limit int) ([]*Commit, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.MemoryStore.ListByStatus(ctx, status, before, limit)
}

func TestReconciler_StopDuringSweep(t *testing.T) {
	h := newHarness(t)
	store := &blockingCommits{MemoryStore: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewReconciler(h.svc, store, h.svc.logger).WithInterval(time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	<-store.entered
	r.Stop()
	r.Stop()
	close(store.release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop requested mid-sweep was lost")
	}
}

func TestCommit_ConcurrentApprovalsCommitOnce(t *testing.T) {
	h := newHarness(t)
	member := h.register(t, "mo@example.com")

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ApproveWithOrder(context.Background(), membershipAndTraining(member)); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, 2, h.lineStore.Len())
}

func TestSettle(t *testing.T) {
	b := order.NewBuilder(testCatalog(t))
	o, r, err := Settle(b, pricing.DiscountStudent,
		[]order.Selection{{PlanID: plan.PlanMonthlyStandard, Quantity: 3}}, cash("5000"))
	require.NoError(t, err)
	assert.Equal(t, "4200.00", money.Format(o.GrandTotal))
	assert.Equal(t, "800.00", money.Format(r.ChangeGiven))

	_, _, err = Settle(b, pricing.DiscountNone,
		[]order.Selection{{PlanID: plan.PlanMonthlyStandard}}, cash("10"))
	var short interface{ Details() any }
	require.ErrorAs(t, err, &short)
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
}

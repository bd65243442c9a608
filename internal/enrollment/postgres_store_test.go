package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	b := order.NewBuilder(testCatalog(t))
	now := time.Now().UTC().Truncate(time.Microsecond)

	o, result, err := Settle(b, "", []order.Selection{{PlanID: plan.PlanMembership}, {PlanID: plan.PlanPersonalTraining}}, cash("2000"))
	require.NoError(t, err)

	c := &Commit{
		ID: "cmt_pg", MemberID: "mbr_pg", Kind: KindApproval, Order: o, Settlement: result,
		Discount: &DiscountRequest{Type: "senior", VerifiedBy: "desk"},
		Steps: []Step{
			{Kind: StepAnchor, State: StepDone, Attempts: 1},
			{Kind: StepLine, PlanID: plan.PlanMembership, Ref: "rcp_a", State: StepFailed, ErrorKind: "external"},
		},
		Status: StatusPartialFailure, Runs: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, c))
	assert.ErrorIs(t, store.Create(ctx, c), ErrDuplicateCommit)

	got, err := store.Get(ctx, "cmt_pg")
	require.NoError(t, err)
	assert.Equal(t, StatusPartialFailure, got.Status)
	assert.True(t, o.GrandTotal.Equal(got.Order.GrandTotal))
	assert.True(t, result.ChangeGiven.Equal(got.Settlement.ChangeGiven))
	require.NotNil(t, got.Discount)
	assert.Equal(t, "desk", got.Discount.VerifiedBy)
	assert.Equal(t, []string{"rcp_a"}, got.ReceiptIDs())

	partial, err := store.ListByStatus(ctx, StatusPartialFailure, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, partial, 1)

	got.Steps[1].State = StepDone
	got.Status = StatusCompleted
	got.Runs = 2
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.Update(ctx, got))

	partial, err = store.ListByStatus(ctx, StatusPartialFailure, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, partial)

	mine, err := store.ListByMember(ctx, "mbr_pg", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, StatusCompleted, mine[0].Status)
	assert.Equal(t, 2, mine[0].Runs)

	_, err = store.Get(ctx, "cmt_missing")
	assert.ErrorIs(t, err, ErrCommitNotFound)
	assert.ErrorIs(t, store.Update(ctx, &Commit{ID: "cmt_missing"}), ErrCommitNotFound)
}

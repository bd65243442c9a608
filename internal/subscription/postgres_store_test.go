package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/testutil"
)

func TestPostgresStore_CreateLineIdempotent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	line := testLine("rcp_pg", plan.PlanMonthlyPremium, "month", start)
	line.EndDate = EndDate(line.UnitLabel, start, line.Quantity)
	line.CreatedAt = start

	stored, created, err := store.CreateLine(ctx, line)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, stored.LineTotal.Equal(line.LineTotal))

	_, created, err = store.CreateLine(ctx, line)
	require.NoError(t, err)
	assert.False(t, created)

	active, err := store.ListActiveByMember(ctx, "mbr_1", start.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, active, 1)

	active, err = store.ListActiveByMember(ctx, "mbr_1", start.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = store.GetLine(ctx, "rcp_missing")
	assert.ErrorIs(t, err, ErrLineNotFound)
}

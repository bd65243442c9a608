package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gymops/internal/testutil"
)

func TestPostgresStore_KeyLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	mgr := NewManager(NewPostgresStore(db))

	raw, key, err := mgr.GenerateKey(ctx, "maria", "desk")
	require.NoError(t, err)

	again, err := mgr.ImportKey(ctx, "maria", "desk", raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, again.ID)

	got, err := mgr.ValidateKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "maria", got.Operator)

	keys, err := mgr.ListKeys(ctx, "maria")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsed)

	require.NoError(t, mgr.RevokeKey(ctx, key.ID, "maria"))
	_, err = mgr.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

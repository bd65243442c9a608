package receipts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
)

const testSecret = "test-hmac-secret-for-receipts"

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, NewSigner(testSecret)), store
}

func cashRequest(id string) IssueRequest {
	return IssueRequest{
		ID:             id,
		CommitID:       "cmt_1",
		MemberID:       "mbr_1",
		PlanID:         plan.PlanMonthlyPremium,
		Quantity:       1,
		LineTotal:      "850.00",
		AmountReceived: "1500.00",
		Change:         "650.00",
		PaymentMethod:  order.PaymentCash,
	}
}

func TestIssue_SignsAndStores(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	r, err := svc.Issue(ctx, cashRequest("rcp_a"))
	require.NoError(t, err)
	assert.Equal(t, "rcp_a", r.ID)
	assert.NotEmpty(t, r.Signature)
	assert.Len(t, r.PayloadHash, 64)
	assert.False(t, r.IssuedAt.IsZero())

	got, err := svc.Get(ctx, "rcp_a")
	require.NoError(t, err)
	assert.Equal(t, r.Signature, got.Signature)
}

func TestIssue_IdempotentByID(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Issue(ctx, cashRequest("rcp_a"))
	require.NoError(t, err)

	retry := cashRequest("rcp_a")
	retry.AmountReceived = "9999.00"
	second, err := svc.Issue(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, first.AmountReceived, second.AmountReceived)

	all, err := svc.ListByCommit(ctx, "cmt_1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIssue_GeneratesID(t *testing.T) {
	svc, _ := newTestService()
	r, err := svc.Issue(context.Background(), cashRequest(""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.ID, "rcp_"))
}

func TestVerify(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	_, err := svc.Issue(ctx, cashRequest("rcp_a"))
	require.NoError(t, err)

	resp, err := svc.Verify(ctx, "rcp_a")
	require.NoError(t, err)
	assert.True(t, resp.Valid)

	// Tamper with the stored amount.
	store.mu.Lock()
	store.receipts["rcp_a"].AmountReceived = "1.00"
	store.mu.Unlock()

	resp, err = svc.Verify(ctx, "rcp_a")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, "signature verification failed", resp.Error)

	resp, err = svc.Verify(ctx, "rcp_missing")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, ErrReceiptNotFound.Error(), resp.Error)
}

func TestVerify_OtherSecretFails(t *testing.T) {
	store := NewMemoryStore()
	_, err := NewService(store, NewSigner("secret-a")).Issue(context.Background(), cashRequest("rcp_a"))
	require.NoError(t, err)

	resp, err := NewService(store, NewSigner("secret-b")).Verify(context.Background(), "rcp_a")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
}

func TestSigningDisabled(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewSigner(""))
	assert.False(t, svc.SigningEnabled())

	r, err := svc.Issue(context.Background(), cashRequest("rcp_a"))
	require.NoError(t, err)
	assert.Empty(t, r.Signature)
	assert.NotEmpty(t, r.PayloadHash)

	resp, err := svc.Verify(context.Background(), "rcp_a")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, ErrSigningDisabled.Error(), resp.Error)
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Get(context.Background(), "rcp_missing")
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
}

func TestListByMember_Limit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for _, id := range []string{"rcp_1", "rcp_2", "rcp_3"} {
		_, err := svc.Issue(ctx, cashRequest(id))
		require.NoError(t, err)
	}
	rs, err := svc.ListByMember(ctx, "mbr_1", 2)
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService()
	_, err := svc.Issue(context.Background(), cashRequest("rcp_a"))
	require.NoError(t, err)

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/receipts/rcp_a", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lineTotal":"850.00"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/receipts/rcp_nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/receipts/verify", strings.NewReader(`{"receiptId":"rcp_a"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/mbr_1/receipts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

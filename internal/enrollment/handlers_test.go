package enrollment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gymops/internal/plan"
)

func setupRouter(t *testing.T) (*gin.Engine, *harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newHarness(t)
	handler := NewHandler(h.svc)
	r := gin.New()
	g := r.Group("/v1")
	handler.RegisterRoutes(g)
	handler.RegisterProtectedRoutes(g)
	return r, h
}

func doJSON(r *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Quote(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/orders/quote",
		`{"selections":[{"planId":"2","quantity":2}],"discountType":"student"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Order struct {
			GrandTotal string `json:"grandTotal"`
			AmountPaid string `json:"amountPaid"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2800", resp.Order.GrandTotal)
	assert.Equal(t, "2800", resp.Order.AmountPaid)

	w = doJSON(r, http.MethodPost, "/v1/orders/quote", `{"selections":[{"planId":1},{"planId":2}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_ToggleRejection(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/orders/toggle",
		`{"selections":[{"planId":1}],"planId":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Order struct {
			Lines []struct {
				PlanID plan.ID `json:"planId"`
			} `json:"lines"`
		} `json:"order"`
		Rejection *struct {
			Code     string  `json:"code"`
			Conflict plan.ID `json:"conflictingPlanId"`
		} `json:"rejection"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Rejection)
	assert.Equal(t, plan.ReasonExclusive, resp.Rejection.Code)
	assert.Equal(t, plan.PlanMembership, resp.Rejection.Conflict)
	require.Len(t, resp.Order.Lines, 1)

	w = doJSON(r, http.MethodPost, "/v1/orders/toggle", `{"planId":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rejection":null`)
}

func TestHandler_SettleShortfall(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/orders/settle",
		`{"selections":[{"planId":2}],"payment":{"method":"cash","amountReceived":"1000"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"shortfall":"500.00"`)

	w = doJSON(r, http.MethodPost, "/v1/orders/settle", `{"selections":[{"planId":2}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/orders/settle",
		`{"selections":[{"planId":2}],"payment":{"method":"cash","amountReceived":"2000"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"changeGiven":"500"`)
}

func TestHandler_ApproveBare(t *testing.T) {
	r, h := setupRouter(t)
	member := h.register(t, "nia@example.com")

	w := doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/approve", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"approved"`)

	w = doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/approve", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_ApproveWithOrderAndRetry(t *testing.T) {
	r, h := setupRouter(t)
	member := h.register(t, "oz@example.com")

	h.lines.failPlan.Store(int64(plan.PlanPersonalTraining))
	body := `{"selections":[{"planId":1},{"planId":5}],"payment":{"method":"cash","amountReceived":"1500"}}`
	w := doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/approve", body, "Idempotency-Key", "cmt_desk_1")
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	var failed struct {
		Error   string `json:"error"`
		Details struct {
			CommitID string `json:"commitId"`
			Failed   []struct {
				Step string `json:"step"`
			} `json:"failed"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	assert.Equal(t, "partial_commit", failed.Error)
	assert.Equal(t, "cmt_desk_1", failed.Details.CommitID)
	require.Len(t, failed.Details.Failed, 1)
	assert.Equal(t, "line:5", failed.Details.Failed[0].Step)

	w = doJSON(r, http.MethodGet, "/v1/commits/cmt_desk_1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"partial_failure"`)

	h.lines.failPlan.Store(0)
	w = doJSON(r, http.MethodPost, "/v1/commits/cmt_desk_1/retry", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	w = doJSON(r, http.MethodGet, "/v1/accounts/"+member+"/commits", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_Purchase(t *testing.T) {
	r, h := setupRouter(t)
	member := h.register(t, "pat@example.com")

	body := `{"selections":[{"planId":2}],"payment":{"method":"digital","amountReceived":"1500","referenceNumber":"GC-9"}}`
	w := doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/purchases", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/approve", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/purchases", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ReceiptIDs []string `json:"receiptIds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.ReceiptIDs, 1)
	assert.True(t, strings.HasPrefix(resp.ReceiptIDs[0], "rcp_"))

	w = doJSON(r, http.MethodPost, "/v1/accounts/"+member+"/purchases", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetCommitNotFound(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodGet, "/v1/commits/cmt_nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

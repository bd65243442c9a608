package enrollment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gymops/internal/auth"
	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/pagination"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
)

// Handler provides HTTP endpoints for quoting and committing orders.
type Handler struct {
	service *Service
}

// NewHandler creates a new enrollment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only and stateless routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/quote", h.Quote)
	r.POST("/orders/toggle", h.Toggle)
	r.POST("/orders/settle", h.Settle)
	r.GET("/commits/:id", h.GetCommit)
	r.GET("/accounts/:id/commits", h.ListCommits)
}

// RegisterProtectedRoutes sets up routes that commit orders.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:id/approve", h.Approve)
	r.POST("/accounts/:id/purchases", h.Purchase)
	r.POST("/commits/:id/retry", h.RetryCommit)
}

// QuoteRequest is a draft to price.
type QuoteRequest struct {
	Selections   []order.Selection `json:"selections"`
	DiscountType string            `json:"discountType"`
	Payment      *PaymentRequest   `json:"payment,omitempty"`
}

// ToggleRequest toggles one plan on the draft given by Selections.
type ToggleRequest struct {
	Selections   []order.Selection `json:"selections"`
	DiscountType string            `json:"discountType"`
	PlanID       plan.ID           `json:"planId" binding:"required"`
}

// Quote handles POST /v1/orders/quote
func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if !bind(c, &req) {
		return
	}
	o, err := Price(h.service.Builder(), "", pricing.ParseDiscountType(req.DiscountType), req.Selections)
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// Toggle handles POST /v1/orders/toggle. A refused toggle is not an error:
// the unchanged draft is returned alongside the rejection.
func (h *Handler) Toggle(c *gin.Context) {
	var req ToggleRequest
	if !bind(c, &req) {
		return
	}
	b := h.service.Builder()
	discount := pricing.ParseDiscountType(req.DiscountType)
	o := b.New("", discount)
	if len(req.Selections) > 0 {
		var err error
		if o, err = Price(b, "", discount, req.Selections); err != nil {
			failure.Respond(c, err)
			return
		}
	}
	next, err := b.Toggle(o, req.PlanID)
	var rej *order.Rejection
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusOK, gin.H{"order": o, "rejection": rej})
	case err != nil:
		failure.Respond(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"order": next, "rejection": nil})
	}
}

// Settle handles POST /v1/orders/settle
func (h *Handler) Settle(c *gin.Context) {
	var req QuoteRequest
	if !bind(c, &req) {
		return
	}
	if req.Payment == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "payment is required",
		})
		return
	}
	o, result, err := Settle(h.service.Builder(), pricing.ParseDiscountType(req.DiscountType), req.Selections, *req.Payment)
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "settlement": result})
}

// Approve handles POST /v1/accounts/:id/approve. Without selections it only
// approves the member; with selections it approves and commits the order.
func (h *Handler) Approve(c *gin.Context) {
	var req CommitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "request body is not valid JSON",
			})
			return
		}
	}
	if len(req.Selections) == 0 && req.Discount == nil {
		a, err := h.service.Approve(c.Request.Context(), c.Param("id"))
		if err != nil {
			failure.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": a})
		return
	}
	h.commit(c, req, h.service.ApproveWithOrder)
}

// Purchase handles POST /v1/accounts/:id/purchases
func (h *Handler) Purchase(c *gin.Context) {
	var req CommitRequest
	if !bind(c, &req) {
		return
	}
	h.commit(c, req, h.service.Purchase)
}

func (h *Handler) commit(c *gin.Context, req CommitRequest, run func(context.Context, CommitRequest) (*Commit, error)) {
	req.MemberID = c.Param("id")
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	req.Operator = auth.Operator(c)
	if req.Discount != nil && strings.TrimSpace(req.Discount.VerifiedBy) == "" {
		req.Discount.VerifiedBy = req.Operator
	}
	cm, err := run(c.Request.Context(), req)
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"commit": cm, "receiptIds": cm.ReceiptIDs()})
}

// GetCommit handles GET /v1/commits/:id
func (h *Handler) GetCommit(c *gin.Context) {
	cm, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commit": cm})
}

// ListCommits handles GET /v1/accounts/:id/commits?limit=
func (h *Handler) ListCommits(c *gin.Context) {
	cs, err := h.service.ListByMember(c.Request.Context(), c.Param("id"), pagination.ParseLimit(c.Query("limit")))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	if cs == nil {
		cs = []*Commit{}
	}
	c.JSON(http.StatusOK, gin.H{"commits": cs, "count": len(cs)})
}

// RetryCommit handles POST /v1/commits/:id/retry
func (h *Handler) RetryCommit(c *gin.Context) {
	cm, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commit": cm, "receiptIds": cm.ReceiptIDs()})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "request body is not valid: " + err.Error(),
		})
		return false
	}
	return true
}

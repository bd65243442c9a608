package receipts

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/pagination"
)

// Handler provides HTTP endpoints for receipt lookup and verification.
type Handler struct {
	service *Service
}

// NewHandler creates a new receipt handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/receipts/:id", h.GetReceipt)
	r.GET("/accounts/:id/receipts", h.ListByMember)
	r.POST("/receipts/verify", h.VerifyReceipt)
}

// GetReceipt handles GET /v1/receipts/:id
func (h *Handler) GetReceipt(c *gin.Context) {
	receipt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// ListByMember handles GET /v1/accounts/:id/receipts
func (h *Handler) ListByMember(c *gin.Context) {
	receipts, err := h.service.ListByMember(c.Request.Context(), c.Param("id"), pagination.ParseLimit(c.Query("limit")))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	if receipts == nil {
		receipts = []*Receipt{}
	}
	c.JSON(http.StatusOK, gin.H{
		"receipts": receipts,
		"count":    len(receipts),
	})
}

// VerifyReceipt handles POST /v1/receipts/verify
func (h *Handler) VerifyReceipt(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "receiptId is required",
		})
		return
	}

	resp, err := h.service.Verify(c.Request.Context(), req.ReceiptID)
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": resp})
}

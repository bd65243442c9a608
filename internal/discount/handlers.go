package discount

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gymops/internal/auth"
	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/logging"
)

// Handler provides HTTP endpoints for discount tags.
type Handler struct {
	service *Service
}

// NewHandler creates a new discount handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only discount routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/discount", h.GetActive)
	r.GET("/accounts/:id/discounts", h.History)
}

// RegisterProtectedRoutes sets up discount mutation routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:id/discounts", h.AddTag)
	r.DELETE("/discounts/:tagId", h.RemoveTag)
}

// GetActive handles GET /v1/accounts/:id/discount
func (h *Handler) GetActive(c *gin.Context) {
	tag, err := h.service.GetActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to read active discount", "member_id", c.Param("id"), "error", err)
		failure.Respond(c, err)
		return
	}
	if tag == nil {
		c.JSON(http.StatusOK, gin.H{"tag": nil, "discountType": "none"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tag": tag, "discountType": tag.Type})
}

// History handles GET /v1/accounts/:id/discounts
func (h *Handler) History(c *gin.Context) {
	tags, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	if tags == nil {
		tags = []*Tag{}
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags, "count": len(tags)})
}

// AddTag handles POST /v1/accounts/:id/discounts. An Idempotency-Key header
// becomes the tag id so a resent request returns the original tag.
func (h *Handler) AddTag(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "discountType is required",
		})
		return
	}
	req.MemberID = c.Param("id")
	if strings.TrimSpace(req.VerifiedBy) == "" {
		req.VerifiedBy = auth.Operator(c)
	}
	req.ID = strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	tag, err := h.service.Add(c.Request.Context(), req)
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tag": tag})
}

// RemoveTag handles DELETE /v1/discounts/:tagId
func (h *Handler) RemoveTag(c *gin.Context) {
	tag, err := h.service.Remove(c.Request.Context(), c.Param("tagId"))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tag": tag})
}

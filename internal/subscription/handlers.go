package subscription

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gymops/internal/failure"
)

// Handler provides HTTP endpoints for a member's subscriptions.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/subscriptions", h.ListSubscriptions)
}

// ListSubscriptions handles GET /v1/accounts/:id/subscriptions?all=true
func (h *Handler) ListSubscriptions(c *gin.Context) {
	lines, err := h.service.List(c.Request.Context(), c.Param("id"), c.Query("all") != "true")
	if err != nil {
		failure.Respond(c, err)
		return
	}
	if lines == nil {
		lines = []*Line{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": lines, "count": len(lines)})
}

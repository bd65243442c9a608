package account

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/pagination"
)

// Handler provides HTTP endpoints for account registration and lifecycle.
// Approval is served by the enrollment handler, which can fuse it with a
// first purchase.
type Handler struct {
	service *Service
}

// NewHandler creates a new account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.ListAccounts)
	r.GET("/accounts/:id", h.GetAccount)
}

// RegisterProtectedRoutes sets up account mutation routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.Register)
	r.POST("/accounts/:id/reject", h.Reject)
	r.POST("/accounts/:id/deactivate", h.Deactivate)
	r.POST("/accounts/:id/reactivate", h.Reactivate)
	r.POST("/accounts/:id/restore", h.Restore)
}

// Register handles POST /v1/accounts
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name and email are required",
		})
		return
	}
	a, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": a})
}

// ListAccounts handles GET /v1/accounts?status=&cursor=&limit=
func (h *Handler) ListAccounts(c *gin.Context) {
	page, err := h.service.List(c.Request.Context(),
		c.Query("status"), c.Query("cursor"), pagination.ParseLimit(c.Query("limit")))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a})
}

// Reject handles POST /v1/accounts/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.respond(c)(h.service.Reject(c.Request.Context(), c.Param("id")))
}

// Deactivate handles POST /v1/accounts/:id/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	var req DeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reasonCode is required",
		})
		return
	}
	h.respond(c)(h.service.Deactivate(c.Request.Context(), c.Param("id"), req))
}

// Reactivate handles POST /v1/accounts/:id/reactivate
func (h *Handler) Reactivate(c *gin.Context) {
	h.respond(c)(h.service.Reactivate(c.Request.Context(), c.Param("id")))
}

// Restore handles POST /v1/accounts/:id/restore
func (h *Handler) Restore(c *gin.Context) {
	h.respond(c)(h.service.Restore(c.Request.Context(), c.Param("id")))
}

func (h *Handler) respond(c *gin.Context) func(*Account, error) {
	return func(a *Account, err error) {
		if err != nil {
			failure.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": a})
	}
}

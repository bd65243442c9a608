package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for operator key management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterProtectedRoutes sets up key management routes. The caller must
// install Middleware and RequireAuth on r.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
	r.GET("/auth/keys", h.ListKeys)
	r.POST("/auth/keys", h.CreateKey)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	key, _ := GetAPIKey(c)
	c.JSON(http.StatusOK, gin.H{
		"operator": key.Operator,
		"keyId":    key.ID,
		"keyName":  key.Name,
	})
}

// ListKeys handles GET /v1/auth/keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), Operator(c))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "external_failure",
			"message": "Failed to list keys",
		})
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// CreateKeyRequest is the request body for creating a key
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey handles POST /v1/auth/keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Additional key"
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), Operator(c), req.Name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "external_failure",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"key":     key,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// RevokeKey handles DELETE /v1/auth/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	key, _ := GetAPIKey(c)
	keyID := c.Param("keyId")

	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}

	err := h.manager.RevokeKey(c.Request.Context(), keyID, key.Operator)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Key not found or already revoked",
		})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "external_failure",
			"message": "Failed to revoke key",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Key revoked", "keyId": keyID})
	}
}

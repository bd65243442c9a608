package plan

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/gymops/internal/logging"
)

// Handler provides HTTP endpoints for the plan catalog.
type Handler struct {
	store Store
}

// NewHandler creates a new catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.store.List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list plans", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "catalog_unavailable",
			"message": "Plan catalog could not be loaded",
		})
		return
	}

	type planView struct {
		Plan
		MutuallyExclusiveWith []ID `json:"mutuallyExclusiveWith,omitempty"`
		Requires              []ID `json:"requires,omitempty"`
	}
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		rel := Relationships[p.ID]
		views = append(views, planView{
			Plan:                  p,
			MutuallyExclusiveWith: rel.MutuallyExclusiveWith,
			Requires:              rel.Requires,
		})
	}

	c.JSON(http.StatusOK, gin.H{"plans": views, "count": len(views)})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// UsageHandler reports quota usage and the tier table
type UsageHandler struct {
	quota  *services.QuotaGuard
	policy *services.TierPolicy
	now    func() time.Time
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(quota *services.QuotaGuard, policy *services.TierPolicy, now func() time.Time) *UsageHandler {
	if now == nil {
		now = time.Now
	}
	return &UsageHandler{quota: quota, policy: policy, now: now}
}

// HandleUsage handles GET /api/v1/usage. Reading usage does not consume quota.
func (h *UsageHandler) HandleUsage(c *gin.Context) {
	owner, tier := middleware.GetOwnerID(c), middleware.GetTier(c)
	limits := h.policy.Resolve(tier)
	d := h.quota.Peek(owner, tier, h.now())

	daily := gin.H{
		"used":      d.Used,
		"unlimited": d.Unlimited,
		"reset_at":  d.ResetAt.UTC().Format(time.RFC3339),
	}
	if !d.Unlimited {
		daily["limit"] = d.Limit
		daily["remaining"] = d.Remaining
	}

	c.JSON(http.StatusOK, gin.H{
		"tier":  limits.Name,
		"daily": daily,
		"concurrent": gin.H{
			"limit":     limits.MaxConcurrentRequests,
			"in_flight": h.quota.InFlight(owner),
		},
		"limits": limits,
	})
}

// HandleTiers handles GET /api/v1/tiers
func (h *UsageHandler) HandleTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiers": h.policy.All(),
	})
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// ContextClientIP holds the address the throttle charged the attempt to
const ContextClientIP = "client_ip"

// Throttler records authentication attempts per client IP
type Throttler interface {
	Attempt(action models.ThrottleAction, ip string, now time.Time) (services.ThrottleDecision, error)
}

// AuthThrottleMiddleware charges one attempt of action to the client IP
// before the authentication handler runs.
func AuthThrottleMiddleware(throttle Throttler, action models.ThrottleAction, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		ip := ClientIP(c)
		c.Set(ContextClientIP, ip)

		decision, err := throttle.Attempt(action, ip, now())
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}
		if err != nil {
			RespondError(c, err)
			return
		}

		c.Next()
	}
}

// ClientIP resolves the caller address from proxy headers
func ClientIP(c *gin.Context) string {
	return services.ResolveClientIP(c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-IP"))
}

// GetClientIP returns the address stored by AuthThrottleMiddleware
func GetClientIP(c *gin.Context) string {
	if ip := c.GetString(ContextClientIP); ip != "" {
		return ip
	}
	return ClientIP(c)
}

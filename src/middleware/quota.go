package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// QuotaChecker enforces daily and concurrency limits
type QuotaChecker interface {
	Acquire(identity string, tier models.TierName) (func(), error)
	CheckAndConsume(identity string, tier models.TierName, now time.Time) (services.QuotaDecision, error)
}

// UsageRecorder counts successful uses of an API key
type UsageRecorder interface {
	RecordUsage(ctx context.Context, keyID string) error
}

// QuotaMiddleware admits the request against the owner's daily quota and
// concurrency limit. It must run after RequireIdentity.
func QuotaMiddleware(quota QuotaChecker, usage UsageRecorder, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		owner, tier := GetOwnerID(c), GetTier(c)

		release, err := quota.Acquire(owner, tier)
		if err != nil {
			RespondError(c, err)
			return
		}
		defer release()

		ts := now()
		decision, err := quota.CheckAndConsume(owner, tier, ts)
		setRateLimitHeaders(c, decision)
		if err != nil {
			c.Header("Retry-After", strconv.FormatInt(secondsUntil(ts, decision.ResetAt), 10))
			RespondError(c, err)
			return
		}

		if keyID := GetKeyID(c); keyID != "" {
			if err := usage.RecordUsage(c.Request.Context(), keyID); err != nil {
				logger := logging.FromContext(c.Request.Context(), "quota")
				logger.Warn().Err(err).Str("key_id", keyID).Msg("failed to record key usage")
			}
		}

		c.Next()
	}
}

// setRateLimitHeaders writes the X-RateLimit-* headers. Unlimited tiers get none.
func setRateLimitHeaders(c *gin.Context, d services.QuotaDecision) {
	if d.Unlimited || d.Limit <= 0 {
		return
	}
	remaining := d.Remaining
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func secondsUntil(now, t time.Time) int64 {
	d := t.Sub(now)
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

package services

import (
	"sync"
	"time"

	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/observability"
	"github.com/rs/zerolog"
)

const dayLayout = "2006-01-02"

// QuotaDecision describes the daily quota state after a check
type QuotaDecision struct {
	Allowed   bool
	Unlimited bool
	Limit     int64
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// QuotaGuard enforces per-identity daily call limits in fixed UTC-day
// windows, plus the per-identity cap on requests in flight.
type QuotaGuard struct {
	policy   *TierPolicy
	days     *WindowTable
	inflight *WindowTable
	logger   zerolog.Logger
}

// NewQuotaGuard creates a guard reading limits from policy
func NewQuotaGuard(policy *TierPolicy) *QuotaGuard {
	return &QuotaGuard{
		policy:   policy,
		days:     NewWindowTable(DefaultShardCount),
		inflight: NewWindowTable(DefaultShardCount),
		logger:   logging.NewLogger("quota"),
	}
}

// DayStart returns UTC midnight of the day containing now
func DayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextUTCMidnight returns the instant the current daily window resets
func NextUTCMidnight(now time.Time) time.Time {
	return DayStart(now).AddDate(0, 0, 1)
}

func dayKey(identity string, now time.Time) string {
	return identity + "|" + now.UTC().Format(dayLayout)
}

// CheckAndConsume admits one call for identity if its tier's daily limit
// allows it. The check and the increment happen under one lock, so
// concurrent callers can never push usage past the limit.
func (g *QuotaGuard) CheckAndConsume(identity string, tier models.TierName, now time.Time) (QuotaDecision, error) {
	cfg := g.policy.Resolve(tier)
	resetAt := NextUTCMidnight(now)

	if cfg.UnlimitedCalls() {
		observability.QuotaDecisionsTotal.WithLabelValues(string(cfg.Name), "unlimited").Inc()
		return QuotaDecision{
			Allowed:   true,
			Unlimited: true,
			Limit:     models.Unlimited,
			Remaining: models.Unlimited,
			ResetAt:   resetAt,
		}, nil
	}

	decision := QuotaDecision{Limit: cfg.CallsPerDay, ResetAt: resetAt}
	g.days.Update(dayKey(identity, now), func(e *models.RateWindowEntry) bool {
		if e.Count == 0 {
			e.WindowStart = DayStart(now)
		}
		if e.Count >= cfg.CallsPerDay {
			decision.Used = e.Count
			return false
		}
		e.Count++
		decision.Allowed = true
		decision.Used = e.Count
		decision.Remaining = cfg.CallsPerDay - e.Count
		return false
	})

	if !decision.Allowed {
		observability.QuotaDecisionsTotal.WithLabelValues(string(cfg.Name), "rejected").Inc()
		g.logger.Info().
			Str("identity", identity).
			Str("tier", string(cfg.Name)).
			Int64("limit", decision.Limit).
			Msg("daily limit reached")
		return decision, DailyLimitError(decision.Limit, decision.Used, resetAt)
	}

	observability.QuotaDecisionsTotal.WithLabelValues(string(cfg.Name), "allowed").Inc()
	return decision, nil
}

// Peek reports today's usage for identity without consuming a call
func (g *QuotaGuard) Peek(identity string, tier models.TierName, now time.Time) QuotaDecision {
	cfg := g.policy.Resolve(tier)
	decision := QuotaDecision{
		Allowed: true,
		Limit:   cfg.CallsPerDay,
		ResetAt: NextUTCMidnight(now),
	}
	if cfg.UnlimitedCalls() {
		decision.Unlimited = true
		decision.Remaining = models.Unlimited
		return decision
	}

	if e, ok := g.days.Get(dayKey(identity, now)); ok {
		decision.Used = e.Count
	}
	decision.Remaining = cfg.CallsPerDay - decision.Used
	if decision.Remaining <= 0 {
		decision.Remaining = 0
		decision.Allowed = false
	}
	return decision
}

// Acquire reserves one in-flight request slot for identity.
// The returned release func must be called once the request finishes; it is
// safe to call more than once.
func (g *QuotaGuard) Acquire(identity string, tier models.TierName) (func(), error) {
	cfg := g.policy.Resolve(tier)
	limit := int64(cfg.MaxConcurrentRequests)

	acquired := false
	g.inflight.Update(identity, func(e *models.RateWindowEntry) bool {
		if e.Count >= limit {
			return false
		}
		e.Count++
		acquired = true
		return false
	})

	if !acquired {
		observability.ConcurrencyRejectionsTotal.WithLabelValues(string(cfg.Name)).Inc()
		return nil, RateLimitError("Too many concurrent requests for this account.", 1)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inflight.Update(identity, func(e *models.RateWindowEntry) bool {
				e.Count--
				return e.Count <= 0
			})
		})
	}, nil
}

// InFlight returns the number of requests identity currently holds
func (g *QuotaGuard) InFlight(identity string) int64 {
	e, _ := g.inflight.Get(identity)
	return e.Count
}

// Name identifies the quota table to the sweeper
func (g *QuotaGuard) Name() string {
	return "quota"
}

// Sweep removes day windows that ended before the current UTC day
func (g *QuotaGuard) Sweep(now time.Time) int {
	today := DayStart(now)
	return g.days.Sweep(func(e *models.RateWindowEntry) bool {
		return e.WindowStart.Before(today)
	})
}

// Len returns the number of tracked day windows
func (g *QuotaGuard) Len() int {
	return g.days.Len()
}

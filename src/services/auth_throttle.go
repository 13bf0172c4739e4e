package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/observability"
	"github.com/rs/zerolog"
)

// UnknownClientIP is the shared bucket for requests without a resolvable IP
const UnknownClientIP = "unknown"

// ThrottleConfig is the attempt budget of one action
type ThrottleConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultThrottleConfigs returns the built-in budgets
func DefaultThrottleConfigs() map[models.ThrottleAction]ThrottleConfig {
	return map[models.ThrottleAction]ThrottleConfig{
		models.ThrottleLogin:         {MaxAttempts: 5, Window: 15 * time.Minute},
		models.ThrottleSignup:        {MaxAttempts: 3, Window: 60 * time.Minute},
		models.ThrottlePasswordReset: {MaxAttempts: 3, Window: 60 * time.Minute},
	}
}

// ThrottleDecision is the outcome of one attempt
type ThrottleDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int64
}

// AuthThrottle limits authentication attempts per client IP using rolling
// windows. Each action has its own table so budgets never interfere.
type AuthThrottle struct {
	budgets map[models.ThrottleAction]ThrottleConfig
	tables  map[models.ThrottleAction]*WindowTable
	logger  zerolog.Logger
}

// NewAuthThrottle creates a throttle for the given budgets
func NewAuthThrottle(budgets map[models.ThrottleAction]ThrottleConfig) *AuthThrottle {
	t := &AuthThrottle{
		budgets: make(map[models.ThrottleAction]ThrottleConfig, len(budgets)),
		tables:  make(map[models.ThrottleAction]*WindowTable, len(budgets)),
		logger:  logging.NewLogger("auth_throttle"),
	}
	for action, b := range budgets {
		t.budgets[action] = b
		t.tables[action] = NewWindowTable(DefaultShardCount)
	}
	return t
}

// Attempt records an attempt of action from ip at now.
// Attempts 1..MaxAttempts inside a window are allowed. The next one starts a
// block lasting one full window, during which every attempt is rejected.
func (t *AuthThrottle) Attempt(action models.ThrottleAction, ip string, now time.Time) (ThrottleDecision, error) {
	budget, table, err := t.lookup(action)
	if err != nil {
		return ThrottleDecision{}, err
	}

	decision := ThrottleDecision{Limit: budget.MaxAttempts}
	table.Update(ip, func(e *models.RateWindowEntry) bool {
		switch {
		case e.Blocked(now):
			decision.ResetAt = *e.BlockedUntil
			decision.RetryAfter = ceilSeconds(e.BlockedUntil.Sub(now))

		case e.Count == 0 || e.BlockedUntil != nil || e.Expired(now, budget.Window):
			e.Reset(now)
			decision.Allowed = true
			decision.Remaining = budget.MaxAttempts - 1
			decision.ResetAt = now.Add(budget.Window)

		default:
			e.Count++
			if e.Count > int64(budget.MaxAttempts) {
				until := now.Add(budget.Window)
				e.BlockedUntil = &until
				decision.ResetAt = until
				decision.RetryAfter = ceilSeconds(budget.Window)
				return false
			}
			decision.Allowed = true
			decision.Remaining = budget.MaxAttempts - int(e.Count)
			decision.ResetAt = e.WindowStart.Add(budget.Window)
		}
		return false
	})

	if !decision.Allowed {
		observability.AuthThrottleDecisionsTotal.WithLabelValues(string(action), "rejected").Inc()
		t.logger.Warn().
			Str("action", string(action)).
			Str("client_ip", ip).
			Int64("retry_after", decision.RetryAfter).
			Msg("authentication attempt throttled")
		return decision, RateLimitError(
			fmt.Sprintf("Too many %s attempts. Try again in %d seconds.", strings.ReplaceAll(string(action), "_", " "), decision.RetryAfter),
			decision.RetryAfter,
		)
	}

	observability.AuthThrottleDecisionsTotal.WithLabelValues(string(action), "allowed").Inc()
	return decision, nil
}

// Clear forgets all attempts of action from ip.
// Called after a successful login so the user starts with a full budget.
func (t *AuthThrottle) Clear(action models.ThrottleAction, ip string) {
	if table, ok := t.tables[action]; ok {
		table.Delete(ip)
	}
}

// Entry returns the current window of action for ip
func (t *AuthThrottle) Entry(action models.ThrottleAction, ip string) (models.RateWindowEntry, bool) {
	table, ok := t.tables[action]
	if !ok {
		return models.RateWindowEntry{}, false
	}
	return table.Get(ip)
}

// Name identifies the throttle tables to the sweeper
func (t *AuthThrottle) Name() string {
	return "auth_throttle"
}

// Sweep removes entries whose window has elapsed and whose block, if any, is over
func (t *AuthThrottle) Sweep(now time.Time) int {
	removed := 0
	for action, table := range t.tables {
		window := t.budgets[action].Window
		removed += table.Sweep(func(e *models.RateWindowEntry) bool {
			return !e.Blocked(now) && e.Expired(now, window)
		})
	}
	return removed
}

// Len returns the number of tracked entries across all actions
func (t *AuthThrottle) Len() int {
	n := 0
	for _, table := range t.tables {
		n += table.Len()
	}
	return n
}

func (t *AuthThrottle) lookup(action models.ThrottleAction) (ThrottleConfig, *WindowTable, error) {
	budget, ok := t.budgets[action]
	if !ok {
		return ThrottleConfig{}, nil, fmt.Errorf("no throttle budget for action %q", action)
	}
	return budget, t.tables[action], nil
}

// ResolveClientIP picks the client address from proxy headers: the first
// X-Forwarded-For hop, then X-Real-IP, then the shared "unknown" bucket.
func ResolveClientIP(forwardedFor, realIP string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	return UnknownClientIP
}

// ceilSeconds rounds d up to whole seconds, never below one
func ceilSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

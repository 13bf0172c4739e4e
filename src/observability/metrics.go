// Package observability holds the Prometheus metrics for API key
// authentication and rate limiting.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// KeyValidationsTotal counts API key validations by outcome.
	KeyValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_talk_key_validations_total",
			Help: "API key validations",
		},
		[]string{"result"},
	)

	// KeyValidationCacheHits counts validations served from the snapshot cache.
	KeyValidationCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_talk_key_validation_cache_hits_total",
			Help: "Key validations answered from cache",
		},
	)

	// KeysIssuedTotal counts created keys by prefix.
	KeysIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_talk_keys_issued_total",
			Help: "API keys issued",
		},
		[]string{"prefix"},
	)

	// KeysRevokedTotal counts revocations that changed key state.
	KeysRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_talk_keys_revoked_total",
			Help: "API keys revoked",
		},
	)

	// AuthThrottleDecisionsTotal counts auth throttle decisions by action and outcome.
	AuthThrottleDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_talk_auth_throttle_decisions_total",
			Help: "Auth throttle decisions",
		},
		[]string{"action", "outcome"},
	)

	// QuotaDecisionsTotal counts daily quota decisions by tier and outcome.
	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_talk_quota_decisions_total",
			Help: "Daily quota decisions",
		},
		[]string{"tier", "outcome"},
	)

	// ConcurrencyRejectionsTotal counts requests refused for too many in flight.
	ConcurrencyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_talk_concurrency_rejections_total",
			Help: "Requests rejected by the concurrency limit",
		},
		[]string{"tier"},
	)

	// SweptEntriesTotal counts rate window entries removed by the sweeper.
	SweptEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_talk_swept_entries_total",
			Help: "Expired rate window entries removed",
		},
		[]string{"table"},
	)

	// WindowEntries tracks live rate window entries per table after each sweep.
	WindowEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_talk_window_entries",
			Help: "Live rate window entries",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		KeyValidationsTotal,
		KeyValidationCacheHits,
		KeysIssuedTotal,
		KeysRevokedTotal,
		AuthThrottleDecisionsTotal,
		QuotaDecisionsTotal,
		ConcurrencyRejectionsTotal,
		SweptEntriesTotal,
		WindowEntries,
	)
}

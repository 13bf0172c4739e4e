package models

// TierName identifies a subscription tier
type TierName string

const (
	TierHobby      TierName = "hobby"
	TierPro        TierName = "pro"
	TierEnterprise TierName = "enterprise"
)

// Unlimited marks a numeric tier limit that is not enforced
const Unlimited int64 = -1

// TierConfig holds the limits granted by a subscription tier
type TierConfig struct {
	Name                  TierName `json:"name" yaml:"name"`
	CallsPerDay           int64    `json:"calls_per_day" yaml:"calls_per_day"`
	CharsPerMemo          int64    `json:"chars_per_memo" yaml:"chars_per_memo"`
	MaxAPIKeys            int      `json:"max_api_keys" yaml:"max_api_keys"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	TTSEnginesAllowed     []string `json:"tts_engines_allowed" yaml:"tts_engines_allowed"`
}

// UnlimitedCalls returns true if the tier has no daily call cap
func (t TierConfig) UnlimitedCalls() bool {
	return t.CallsPerDay == Unlimited
}

// UnlimitedChars returns true if the tier has no per-memo character cap
func (t TierConfig) UnlimitedChars() bool {
	return t.CharsPerMemo == Unlimited
}

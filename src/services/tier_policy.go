package services

import (
	"errors"
	"fmt"

	"github.com/hyperio-mc/agent-talk/src/models"
)

// tierRank is the fixed order hobby < pro < enterprise
var tierRank = map[models.TierName]int{
	models.TierHobby:      1,
	models.TierPro:        2,
	models.TierEnterprise: 3,
}

// DefaultTiers returns the built-in tier table
func DefaultTiers() []models.TierConfig {
	return []models.TierConfig{
		{
			Name:                  models.TierHobby,
			CallsPerDay:           100,
			CharsPerMemo:          500,
			MaxAPIKeys:            2,
			MaxConcurrentRequests: 2,
			TTSEnginesAllowed:     []string{models.EngineSimulation, models.EngineEdge},
		},
		{
			Name:                  models.TierPro,
			CallsPerDay:           10000,
			CharsPerMemo:          5000,
			MaxAPIKeys:            10,
			MaxConcurrentRequests: 10,
			TTSEnginesAllowed:     []string{models.EngineSimulation, models.EngineEdge, models.EngineElevenLabs},
		},
		{
			Name:                  models.TierEnterprise,
			CallsPerDay:           models.Unlimited,
			CharsPerMemo:          models.Unlimited,
			MaxAPIKeys:            100,
			MaxConcurrentRequests: 50,
			TTSEnginesAllowed:     []string{models.EngineSimulation, models.EngineEdge, models.EngineElevenLabs},
		},
	}
}

// TierPolicy answers questions about tier limits.
// It is immutable after construction and safe for concurrent use.
type TierPolicy struct {
	tiers   map[models.TierName]models.TierConfig
	engines map[models.TierName]map[string]struct{}
}

// NewTierPolicy validates tiers and builds the lookup tables
func NewTierPolicy(tiers []models.TierConfig) (*TierPolicy, error) {
	p := &TierPolicy{
		tiers:   make(map[models.TierName]models.TierConfig, len(tiers)),
		engines: make(map[models.TierName]map[string]struct{}, len(tiers)),
	}

	var errs []error
	for _, t := range tiers {
		if _, known := tierRank[t.Name]; !known {
			errs = append(errs, fmt.Errorf("unknown tier %q", t.Name))
			continue
		}
		if t.CallsPerDay < models.Unlimited || t.CharsPerMemo < models.Unlimited {
			errs = append(errs, fmt.Errorf("tier %q: limits must be -1 (unlimited) or non-negative", t.Name))
		}
		if t.MaxAPIKeys < 1 || t.MaxConcurrentRequests < 1 {
			errs = append(errs, fmt.Errorf("tier %q: max_api_keys and max_concurrent_requests must be positive", t.Name))
		}

		engines := make(map[string]struct{}, len(t.TTSEnginesAllowed))
		for _, e := range t.TTSEnginesAllowed {
			engines[e] = struct{}{}
		}
		p.tiers[t.Name] = t
		p.engines[t.Name] = engines
	}
	for name := range tierRank {
		if _, ok := p.tiers[name]; !ok {
			errs = append(errs, fmt.Errorf("tier %q is not configured", name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// Tier returns the configuration of name
func (p *TierPolicy) Tier(name models.TierName) (models.TierConfig, bool) {
	t, ok := p.tiers[name]
	return t, ok
}

// Resolve returns the configuration of name, falling back to hobby for
// unknown names so a bad tier value never grants more than the lowest tier.
func (p *TierPolicy) Resolve(name models.TierName) models.TierConfig {
	if t, ok := p.tiers[name]; ok {
		return t
	}
	return p.tiers[models.TierHobby]
}

// All returns the tiers in ascending order
func (p *TierPolicy) All() []models.TierConfig {
	return []models.TierConfig{
		p.tiers[models.TierHobby],
		p.tiers[models.TierPro],
		p.tiers[models.TierEnterprise],
	}
}

// Compare returns -1, 0 or 1 as a ranks below, equal to or above b.
// Unknown names rank below hobby.
func (p *TierPolicy) Compare(a, b models.TierName) int {
	ra, rb := tierRank[a], tierRank[b]
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// IsWithinCharLimit reports whether a memo of n characters is allowed.
// Unlimited tiers accept any length.
func (p *TierPolicy) IsWithinCharLimit(tier models.TierName, n int) bool {
	t := p.Resolve(tier)
	return t.UnlimitedChars() || int64(n) <= t.CharsPerMemo
}

// IsEngineAllowed reports whether tier may synthesise with engine
func (p *TierPolicy) IsEngineAllowed(tier models.TierName, engine string) bool {
	t := p.Resolve(tier)
	_, ok := p.engines[t.Name][engine]
	return ok
}

// LowestTierWithEngine returns the cheapest tier that allows engine
func (p *TierPolicy) LowestTierWithEngine(engine string) (models.TierName, bool) {
	for _, t := range p.All() {
		if _, ok := p.engines[t.Name][engine]; ok {
			return t.Name, true
		}
	}
	return "", false
}

// MaxAPIKeys returns the active key cap for tier
func (p *TierPolicy) MaxAPIKeys(tier models.TierName) int {
	return p.Resolve(tier).MaxAPIKeys
}

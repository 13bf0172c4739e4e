package models

import "time"

// KeyState is the lifecycle state of an API key.
// The only legal transition is Active -> Revoked.
type KeyState string

const (
	KeyStateActive  KeyState = "active"
	KeyStateRevoked KeyState = "revoked"
)

// APIKey is the stored record of an issued API key.
// The plaintext secret is never part of this struct.
type APIKey struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Prefix     string     `json:"prefix"`
	Hash       string     `json:"hash"`
	Masked     string     `json:"masked"`
	Name       string     `json:"name"`
	State      KeyState   `json:"state"`
	UsageCount uint64     `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsActive returns true if the key can still authenticate requests
func (k *APIKey) IsActive() bool {
	return k.State == KeyStateActive
}

// Revoke moves the key to the revoked state.
// It reports false when the key was already revoked.
func (k *APIKey) Revoke(now time.Time) bool {
	if k.State == KeyStateRevoked {
		return false
	}
	revokedAt := now.UTC()
	k.State = KeyStateRevoked
	k.RevokedAt = &revokedAt
	return true
}

// View returns the masked display form of the key
func (k *APIKey) View() MaskedKey {
	return MaskedKey{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		Masked:     k.Masked,
		IsActive:   k.IsActive(),
		UsageCount: k.UsageCount,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
		RevokedAt:  k.RevokedAt,
	}
}

// MaskedKey is what list and detail endpoints return.
// It never carries the hash or the secret.
type MaskedKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Masked     string     `json:"masked_key"`
	IsActive   bool       `json:"is_active"`
	UsageCount uint64     `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

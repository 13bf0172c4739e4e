package models

import "time"

// Account is the owner of API keys
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash"`
	Tier         TierName   `json:"tier"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// PublicAccount is the account view returned to clients
type PublicAccount struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Tier      TierName `json:"tier"`
	CreatedAt string   `json:"created_at"`
}

// Public strips credentials from the account
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Email:     a.Email,
		Tier:      a.Tier,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// PasswordResetToken is stored under the hash of the emailed token
type PasswordResetToken struct {
	AccountEmail string    `json:"account_email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/repositories"
	"golang.org/x/crypto/bcrypt"
)

const (
	accountPrefix   = "account:"
	accountIDPrefix = "account_id:"
	resetPrefix     = "reset:"

	minPasswordLength = 8
	sessionIssuer     = "agent-talk"
)

// dummyHash keeps login timing similar for unknown emails
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("agent-talk-timing-pad"), bcrypt.MinCost)

// SessionClaims contains JWT claims for dashboard sessions
type SessionClaims struct {
	OwnerID string          `json:"owner_id"`
	Email   string          `json:"email"`
	Tier    models.TierName `json:"tier"`
	jwt.RegisteredClaims
}

// AccountServiceConfig tunes the account service
type AccountServiceConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
	ResetTTL   time.Duration
	BcryptCost int
}

// AccountService owns accounts, sessions and password resets.
// It supplies the owner id and tier that API key checks run against.
type AccountService struct {
	store      repositories.RecordStore
	policy     *TierPolicy
	jwtSecret  []byte
	sessionTTL time.Duration
	resetTTL   time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewAccountService creates a new account service
func NewAccountService(store repositories.RecordStore, policy *TierPolicy, cfg AccountServiceConfig) (*AccountService, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters long")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	return &AccountService{
		store:      store,
		policy:     policy,
		jwtSecret:  []byte(cfg.JWTSecret),
		sessionTTL: cfg.SessionTTL,
		resetTTL:   cfg.ResetTTL,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}, nil
}

// SetClock replaces the time source
func (s *AccountService) SetClock(now func() time.Time) {
	s.now = now
}

// Signup creates a hobby account
func (s *AccountService) Signup(ctx context.Context, email, password string) (*models.Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, NewError(KindValidation, fmt.Sprintf("Password must be at least %d characters.", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Tier:         models.TierHobby,
		CreatedAt:    s.now().UTC(),
	}

	payload, err := json.Marshal(account)
	if err != nil {
		return nil, StoreError("encode account", err)
	}
	if _, err := s.store.Put(ctx, accountPrefix+email, payload); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, NewError(KindAccountExists, "An account with this email already exists.")
		}
		return nil, StoreError("store account", err)
	}
	ref, err := json.Marshal(email)
	if err != nil {
		_ = s.store.Delete(ctx, accountPrefix+email)
		return nil, StoreError("encode account id", err)
	}
	if _, err := s.store.Put(ctx, accountIDPrefix+account.ID, ref); err != nil {
		_ = s.store.Delete(ctx, accountPrefix+email)
		return nil, StoreError("store account id", err)
	}

	logger := logging.FromContext(ctx, "accounts")
	logger.Info().Str("owner_id", account.ID).Msg("account created")
	return account, nil
}

// Login verifies credentials and issues a session token
func (s *AccountService) Login(ctx context.Context, email, password string) (*models.Account, string, error) {
	invalid := NewError(KindInvalidCredentials, "Invalid email or password.")

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, "", invalid
	}

	account, version, err := s.loadAccount(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, "", invalid
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, "", invalid
	}

	now := s.now().UTC()
	account.LastLoginAt = &now
	if err := s.saveAccount(ctx, account, version); err != nil {
		logger := logging.FromContext(ctx, "accounts")
		logger.Warn().Err(err).Str("owner_id", account.ID).Msg("failed to record last login")
	}

	token, err := s.issueSession(account)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

func (s *AccountService) issueSession(account *models.Account) (string, error) {
	now := s.now()
	claims := SessionClaims{
		OwnerID: account.ID,
		Email:   account.Email,
		Tier:    account.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifySession parses and validates a session token
func (s *AccountService) VerifySession(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, NewError(KindUnauthorized, "Invalid or expired session.")
	}
	return claims, nil
}

// RequestPasswordReset creates a single-use reset token for email.
// Unknown emails yield an empty token and no error.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	if _, _, err := s.loadAccount(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	payload, err := json.Marshal(models.PasswordResetToken{
		AccountEmail: email,
		ExpiresAt:    s.now().Add(s.resetTTL).UTC(),
	})
	if err != nil {
		return "", StoreError("encode reset token", err)
	}
	if _, err := s.store.Put(ctx, resetPrefix+HashKey(token), payload); err != nil {
		return "", StoreError("store reset token", err)
	}
	return token, nil
}

// ResetPassword consumes token and sets a new password
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	invalid := NewError(KindValidation, "Invalid or expired reset token.")
	if len(newPassword) < minPasswordLength {
		return NewError(KindValidation, fmt.Sprintf("Password must be at least %d characters.", minPasswordLength))
	}

	key := resetPrefix + HashKey(token)
	rec, err := s.store.Get(ctx, key)
	if errors.Is(err, repositories.ErrNotFound) {
		return invalid
	}
	if err != nil {
		return StoreError("load reset token", err)
	}

	// Single use: whoever deletes the token first gets to use it.
	if err := s.store.Delete(ctx, key); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return invalid
		}
		return StoreError("consume reset token", err)
	}

	var reset models.PasswordResetToken
	if err := json.Unmarshal(rec.Value, &reset); err != nil {
		return StoreError("decode reset token", err)
	}
	if !s.now().Before(reset.ExpiresAt) {
		return invalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.mutateAccount(ctx, reset.AccountEmail, func(a *models.Account) {
		a.PasswordHash = string(hash)
	})
}

// TierFor returns the current tier of ownerID
func (s *AccountService) TierFor(ctx context.Context, ownerID string) (models.TierName, error) {
	email, err := s.emailFor(ctx, ownerID)
	if err != nil {
		return "", err
	}
	account, _, err := s.loadAccount(ctx, email)
	if err != nil {
		return "", err
	}
	return account.Tier, nil
}

// SetTier changes the subscription tier of ownerID
func (s *AccountService) SetTier(ctx context.Context, ownerID string, tier models.TierName) error {
	if _, ok := s.policy.Tier(tier); !ok {
		return NewError(KindValidation, fmt.Sprintf("Unknown tier %q.", tier))
	}
	email, err := s.emailFor(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.mutateAccount(ctx, email, func(a *models.Account) {
		a.Tier = tier
	})
}

// Account returns the account of ownerID
func (s *AccountService) Account(ctx context.Context, ownerID string) (*models.Account, error) {
	email, err := s.emailFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	account, _, err := s.loadAccount(ctx, email)
	return account, err
}

func (s *AccountService) emailFor(ctx context.Context, ownerID string) (string, error) {
	rec, err := s.store.Get(ctx, accountIDPrefix+ownerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", NewError(KindNotFound, "Account not found.")
	}
	if err != nil {
		return "", StoreError("load account id", err)
	}
	var email string
	if err := json.Unmarshal(rec.Value, &email); err != nil {
		return "", StoreError("decode account id", err)
	}
	return email, nil
}

func (s *AccountService) mutateAccount(ctx context.Context, email string, fn func(a *models.Account)) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		account, version, err := s.loadAccount(ctx, email)
		if err != nil {
			return err
		}
		fn(account)
		err = s.saveAccount(ctx, account, version)
		if err == nil {
			return nil
		}
		if !isRaceLost(err) {
			return err
		}
	}
	return StoreError("update account", fmt.Errorf("gave up after %d conflicting writes", maxCASAttempts))
}

func (s *AccountService) loadAccount(ctx context.Context, email string) (*models.Account, int64, error) {
	rec, err := s.store.Get(ctx, accountPrefix+email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, 0, NewError(KindNotFound, "Account not found.")
	}
	if err != nil {
		return nil, 0, StoreError("load account", err)
	}
	var account models.Account
	if err := json.Unmarshal(rec.Value, &account); err != nil {
		return nil, 0, StoreError("decode account", err)
	}
	return &account, rec.Version, nil
}

func (s *AccountService) saveAccount(ctx context.Context, account *models.Account, version int64) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return StoreError("encode account", err)
	}
	if _, err := s.store.Update(ctx, accountPrefix+account.Email, payload, version); err != nil {
		if isRaceLost(err) {
			return err
		}
		return StoreError("update account", err)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", NewError(KindValidation, "A valid email address is required.")
	}
	return email, nil
}

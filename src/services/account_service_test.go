package services

import (
	"context"
	"testing"
	"time"

	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "test-secret-that-is-long-enough-0123456789"

func newTestAccountService(t *testing.T) *AccountService {
	t.Helper()
	s, err := NewAccountService(memory.NewRecordStore(), newDefaultPolicy(t), AccountServiceConfig{
		JWTSecret:  testJWTSecret,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	return s
}

func TestNewAccountService_RejectsShortSecret(t *testing.T) {
	_, err := NewAccountService(memory.NewRecordStore(), nil, AccountServiceConfig{JWTSecret: "short"})
	assert.Error(t, err)
}

func TestAccountService_SignupAndLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)

	account, err := s.Signup(ctx, "  Ada@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", account.Email)
	assert.Equal(t, models.TierHobby, account.Tier)
	assert.NotEqual(t, "correct horse", account.PasswordHash)

	_, err = s.Signup(ctx, "ada@example.com", "another one")
	assert.ErrorIs(t, err, ErrAccountExists)

	logged, token, err := s.Login(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, account.ID, logged.ID)
	assert.NotNil(t, logged.LastLoginAt)

	claims, err := s.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.OwnerID)
	assert.Equal(t, models.TierHobby, claims.Tier)
}

func TestAccountService_SignupValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)

	_, err := s.Signup(ctx, "not-an-email", "long enough")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Signup(ctx, "a@b.co", "short")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAccountService_LoginFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)
	_, err := s.Signup(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "ada@example.com", "wrong horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "garbage", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAccountService_VerifySessionRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)
	_, err := s.Signup(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, token, err := s.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, err = s.VerifySession(token + "x")
	assert.ErrorIs(t, err, ErrUnauthorized)

	other, err := NewAccountService(memory.NewRecordStore(), newDefaultPolicy(t), AccountServiceConfig{
		JWTSecret: "a-completely-different-secret-0123456789",
	})
	require.NoError(t, err)
	_, err = other.VerifySession(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	s.SetClock(func() time.Time { return time.Now().Add(25 * time.Hour) })
	_, err = s.VerifySession(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAccountService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)
	_, err := s.Signup(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	token, err := s.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, s.ResetPassword(ctx, token, "battery staple"))
	assert.ErrorIs(t, s.ResetPassword(ctx, token, "battery staple 2"), ErrValidation, "tokens are single use")

	_, _, err = s.Login(ctx, "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "ada@example.com", "battery staple")
	assert.NoError(t, err)
}

func TestAccountService_PasswordResetUnknownEmail(t *testing.T) {
	s := newTestAccountService(t)
	token, err := s.RequestPasswordReset(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestAccountService_PasswordResetExpires(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)
	_, err := s.Signup(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	token, err := s.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	s.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	assert.ErrorIs(t, s.ResetPassword(ctx, token, "battery staple"), ErrValidation)
}

func TestAccountService_Tiers(t *testing.T) {
	ctx := context.Background()
	s := newTestAccountService(t)
	account, err := s.Signup(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	tier, err := s.TierFor(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierHobby, tier)

	require.NoError(t, s.SetTier(ctx, account.ID, models.TierPro))
	tier, err = s.TierFor(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, tier)

	assert.ErrorIs(t, s.SetTier(ctx, account.ID, "platinum"), ErrValidation)
	_, err = s.TierFor(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

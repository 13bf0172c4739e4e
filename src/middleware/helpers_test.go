package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/repositories/memory"
	"github.com/hyperio-mc/agent-talk/src/services"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "middleware-test-secret-0123456789abcdef"

type testStack struct {
	policy   *services.TierPolicy
	keys     *services.KeyService
	accounts *services.AccountService
	quota    *services.QuotaGuard
	throttle *services.AuthThrottle
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy, err := services.NewTierPolicy(services.DefaultTiers())
	require.NoError(t, err)

	store := memory.NewRecordStore()
	accounts, err := services.NewAccountService(store, policy, services.AccountServiceConfig{
		JWTSecret:  testJWTSecret,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)

	return &testStack{
		policy:   policy,
		keys:     services.NewKeyService(store, policy, services.KeyServiceConfig{}),
		accounts: accounts,
		quota:    services.NewQuotaGuard(policy),
		throttle: services.NewAuthThrottle(services.DefaultThrottleConfigs()),
	}
}

// signupWithKey creates an account and an API key for it
func (s *testStack) signupWithKey(t *testing.T, tier models.TierName) (ownerID, secret, session string) {
	t.Helper()
	ctx := context.Background()

	account, err := s.accounts.Signup(ctx, "owner@example.com", "correct horse")
	require.NoError(t, err)
	require.NoError(t, s.accounts.SetTier(ctx, account.ID, tier))

	_, secret, err = s.keys.Create(ctx, account.ID, tier, "test", false)
	require.NoError(t, err)

	_, session, err = s.accounts.Login(ctx, "owner@example.com", "correct horse")
	require.NoError(t, err)

	return account.ID, secret, session
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorPayload {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}

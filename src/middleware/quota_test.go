package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quotaRouter(s *testStack, now func() time.Time) *gin.Engine {
	router := gin.New()
	router.POST("/memo",
		RequireIdentity(s.keys, s.accounts, s.accounts),
		QuotaMiddleware(s.quota, s.keys, now),
		func(c *gin.Context) { c.Status(http.StatusCreated) },
	)
	return router
}

func postWithKey(router http.Handler, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/memo", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQuotaMiddleware_HeadersAndDailyLimit(t *testing.T) {
	s := newTestStack(t)
	owner, secret, _ := s.signupWithKey(t, models.TierHobby)
	now := time.Date(2026, 4, 10, 22, 0, 0, 0, time.UTC)
	router := quotaRouter(s, func() time.Time { return now })
	resetAt := time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC)

	w := postWithKey(router, secret)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(resetAt.Unix(), 10), w.Header().Get("X-RateLimit-Reset"))

	for i := 0; i < 99; i++ {
		require.Equal(t, http.StatusCreated, postWithKey(router, secret).Code)
	}

	w = postWithKey(router, secret)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "7200", w.Header().Get("Retry-After"))

	payload := decodeError(t, w)
	assert.Equal(t, services.KindDailyLimitExceeded, payload.Code)
	assert.EqualValues(t, 100, payload.Details["limit"])
	assert.EqualValues(t, 100, payload.Details["used"])
	assert.Equal(t, "2026-04-11T00:00:00Z", payload.Details["reset_at"])

	keys, err := s.keys.List(t.Context(), owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), keys[0].UsageCount, "only admitted calls count as usage")
}

func TestQuotaMiddleware_UnlimitedTierHasNoHeaders(t *testing.T) {
	s := newTestStack(t)
	_, secret, _ := s.signupWithKey(t, models.TierEnterprise)
	router := quotaRouter(s, nil)

	w := postWithKey(router, secret)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestQuotaMiddleware_ConcurrencyLimit(t *testing.T) {
	s := newTestStack(t)
	owner, secret, _ := s.signupWithKey(t, models.TierHobby)

	// Hold both hobby slots.
	r1, err := s.quota.Acquire(owner, models.TierHobby)
	require.NoError(t, err)
	r2, err := s.quota.Acquire(owner, models.TierHobby)
	require.NoError(t, err)

	router := quotaRouter(s, nil)
	w := postWithKey(router, secret)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, services.KindRateLimited, decodeError(t, w).Code)

	r1()
	r2()
	assert.Equal(t, http.StatusCreated, postWithKey(router, secret).Code)
	assert.Equal(t, int64(0), s.quota.InFlight(owner))
}

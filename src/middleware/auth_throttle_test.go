package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthThrottleMiddleware_LoginBudget(t *testing.T) {
	s := newTestStack(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	router := gin.New()
	router.POST("/auth/login",
		AuthThrottleMiddleware(s.throttle, models.ThrottleLogin, func() time.Time { return now }),
		func(c *gin.Context) { c.JSON(http.StatusUnauthorized, gin.H{"ip": GetClientIP(c)}) },
	)

	attempt := func(forwardedFor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for i := 1; i <= 5; i++ {
		w := attempt("198.51.100.9, 10.0.0.1")
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d reaches the handler", i)
		assert.Contains(t, w.Body.String(), "198.51.100.9")
	}

	w := attempt("198.51.100.9")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.Equal(t, services.KindRateLimited, decodeError(t, w).Code)

	// A different client is unaffected.
	assert.Equal(t, http.StatusUnauthorized, attempt("198.51.100.10").Code)
}

func TestClientIP_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, services.UnknownClientIP, ClientIP(c))

	c.Request.Header.Set("X-Real-IP", "192.0.2.4")
	assert.Equal(t, "192.0.2.4", ClientIP(c))

	c.Request.Header.Set("X-Forwarded-For", "192.0.2.1, 192.0.2.2")
	assert.Equal(t, "192.0.2.1", ClientIP(c))
}

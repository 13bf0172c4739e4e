package services

import (
	"sync"
	"testing"
	"time"

	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var throttleStart = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestAuthThrottle_FifthAllowedSixthRejected(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())
	now := throttleStart

	for i := 1; i <= 5; i++ {
		d, err := throttle.Attempt(models.ThrottleLogin, "1.2.3.4", now)
		require.NoError(t, err, "attempt %d", i)
		assert.True(t, d.Allowed)
		assert.Equal(t, 5-i, d.Remaining)
		now = now.Add(time.Second)
	}

	d, err := throttle.Attempt(models.ThrottleLogin, "1.2.3.4", now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, int64(0))
	assert.Equal(t, int64(15*60), d.RetryAfter)

	retry, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, d.RetryAfter, retry)
}

func TestAuthThrottle_BlockHoldsUntilExpiry(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())
	now := throttleStart

	for i := 0; i < 6; i++ {
		_, _ = throttle.Attempt(models.ThrottleSignup, "5.6.7.8", now)
	}

	// Still blocked ten minutes later, with a shrinking retry window.
	d, err := throttle.Attempt(models.ThrottleSignup, "5.6.7.8", now.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int64(50*60), d.RetryAfter)

	// Block ends one window after it started: fresh window, count 1.
	d, err = throttle.Attempt(models.ThrottleSignup, "5.6.7.8", now.Add(time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, d.Remaining)

	e, ok := throttle.Entry(models.ThrottleSignup, "5.6.7.8")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.Count)
	assert.Nil(t, e.BlockedUntil)
}

func TestAuthThrottle_WindowExpiryResetsCount(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())

	for i := 0; i < 5; i++ {
		_, err := throttle.Attempt(models.ThrottleLogin, "9.9.9.9", throttleStart)
		require.NoError(t, err)
	}

	d, err := throttle.Attempt(models.ThrottleLogin, "9.9.9.9", throttleStart.Add(15*time.Minute+time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 4, d.Remaining)
}

func TestAuthThrottle_ClearOnSuccess(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())

	for i := 0; i < 5; i++ {
		_, _ = throttle.Attempt(models.ThrottleLogin, "1.1.1.1", throttleStart)
	}
	throttle.Clear(models.ThrottleLogin, "1.1.1.1")

	_, ok := throttle.Entry(models.ThrottleLogin, "1.1.1.1")
	assert.False(t, ok)

	d, err := throttle.Attempt(models.ThrottleLogin, "1.1.1.1", throttleStart)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Remaining)
}

func TestAuthThrottle_ActionsAndIPsAreIndependent(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())

	for i := 0; i < 4; i++ {
		_, _ = throttle.Attempt(models.ThrottleSignup, "2.2.2.2", throttleStart)
	}
	_, err := throttle.Attempt(models.ThrottleSignup, "2.2.2.2", throttleStart)
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = throttle.Attempt(models.ThrottleLogin, "2.2.2.2", throttleStart)
	assert.NoError(t, err)
	_, err = throttle.Attempt(models.ThrottlePasswordReset, "2.2.2.2", throttleStart)
	assert.NoError(t, err)
	_, err = throttle.Attempt(models.ThrottleSignup, "3.3.3.3", throttleStart)
	assert.NoError(t, err)
}

func TestAuthThrottle_UnknownAction(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())
	_, err := throttle.Attempt("sudo", "1.2.3.4", throttleStart)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestAuthThrottle_ConcurrentAttemptsAdmitExactlyBudget(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := throttle.Attempt(models.ThrottleLogin, "4.4.4.4", throttleStart); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

func TestAuthThrottle_Sweep(t *testing.T) {
	throttle := NewAuthThrottle(DefaultThrottleConfigs())

	_, _ = throttle.Attempt(models.ThrottleLogin, "old", throttleStart)
	for i := 0; i < 4; i++ {
		_, _ = throttle.Attempt(models.ThrottleSignup, "blocked", throttleStart.Add(10*time.Minute))
	}
	_, _ = throttle.Attempt(models.ThrottleLogin, "fresh", throttleStart.Add(20*time.Minute))
	require.Equal(t, 3, throttle.Len())

	// 20 minutes in: the login window of "old" is over, the signup block is not.
	removed := throttle.Sweep(throttleStart.Add(20*time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, throttle.Len())

	removed = throttle.Sweep(throttleStart.Add(3 * time.Hour))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, throttle.Len())
}

func TestResolveClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", ResolveClientIP("203.0.113.7, 10.0.0.1", "10.0.0.2"))
	assert.Equal(t, "203.0.113.7", ResolveClientIP(" 203.0.113.7 ", ""))
	assert.Equal(t, "10.0.0.2", ResolveClientIP("", "10.0.0.2"))
	assert.Equal(t, "10.0.0.2", ResolveClientIP(" ,10.0.0.1", "10.0.0.2"))
	assert.Equal(t, UnknownClientIP, ResolveClientIP("", ""))
}

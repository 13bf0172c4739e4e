package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/repositories"
	"github.com/hyperio-mc/agent-talk/src/repositories/memory"
	"github.com/hyperio-mc/agent-talk/src/services"
	"golang.org/x/crypto/bcrypt"
)

// Test helpers for handler tests

const testJWTSecret = "handlers-test-secret-0123456789abcdef"

// testClock is a settable clock shared by the services under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (tc *testClock) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

func (tc *testClock) Advance(d time.Duration) {
	tc.mu.Lock()
	tc.now = tc.now.Add(d)
	tc.mu.Unlock()
}

// testServer is the full router over an in-memory store
type testServer struct {
	router *gin.Engine
	deps   Dependencies
	clock  *testClock
}

// newTestServer wires every service the way main does, over memory storage
func newTestServer(t *testing.T, store repositories.RecordStore) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if store == nil {
		store = memory.NewRecordStore()
	}
	clock := &testClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}

	policy, err := services.NewTierPolicy(services.DefaultTiers())
	if err != nil {
		t.Fatalf("failed to build tier policy: %v", err)
	}
	accounts, err := services.NewAccountService(store, policy, services.AccountServiceConfig{
		JWTSecret:  testJWTSecret,
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to build account service: %v", err)
	}
	keys := services.NewKeyService(store, policy, services.KeyServiceConfig{})
	keys.SetClock(clock.Now)
	memos := services.NewMemoService(policy, "https://audio.test")
	memos.SetClock(clock.Now)

	deps := Dependencies{
		Store:       store,
		Backend:     "memory",
		Policy:      policy,
		Keys:        keys,
		Accounts:    accounts,
		Throttle:    services.NewAuthThrottle(services.DefaultThrottleConfigs()),
		Quota:       services.NewQuotaGuard(policy),
		Memos:       memos,
		DemoLimiter: middleware.NewIPRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 10, Burst: 3}),
		Auth:        AuthHandlerConfig{SessionTTL: time.Hour, ExposeResetToken: true},
		Now:         clock.Now,
	}

	return &testServer{router: NewRouter(deps), deps: deps, clock: clock}
}

// do sends a JSON request; auth is sent as a bearer token when set
func (ts *testServer) do(method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// signup creates an account and returns its session token
func (ts *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	w := ts.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"email":    email,
		"password": "correct horse battery",
	})
	assertStatusCode(t, w, http.StatusCreated)
	return decodeBody(t, w)["token"].(string)
}

// createKey issues an API key through the API and returns the secret and ID
func (ts *testServer) createKey(t *testing.T, session string) (secret, id string) {
	t.Helper()
	w := ts.do(http.MethodPost, "/api/v1/keys", session, map[string]interface{}{"name": "ci"})
	assertStatusCode(t, w, http.StatusCreated)
	body := decodeBody(t, w)
	return body["key"].(string), body["api_key"].(map[string]interface{})["id"].(string)
}

// createTestContext creates a test Gin context with recorder
func createTestContext() (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return w, c
}

// assertStatusCode checks if response status code matches expected
func assertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expectedCode int) {
	t.Helper()
	if w.Code != expectedCode {
		t.Fatalf("expected status %d, got %d: %s", expectedCode, w.Code, w.Body.String())
	}
}

// assertErrorCode checks the code of an error envelope
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, expected services.ErrorKind) {
	t.Helper()
	var body middleware.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error.Code != expected {
		t.Errorf("expected error code '%s', got '%s' (%s)", expected, body.Error.Code, body.Error.Message)
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

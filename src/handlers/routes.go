package handlers

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/repositories"
	"github.com/hyperio-mc/agent-talk/src/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the HTTP layer is built from
type Dependencies struct {
	Store       repositories.RecordStore
	Backend     string
	Policy      *services.TierPolicy
	Keys        *services.KeyService
	Accounts    *services.AccountService
	Throttle    *services.AuthThrottle
	Quota       *services.QuotaGuard
	Memos       *services.MemoService
	DemoLimiter *middleware.IPRateLimiter

	Auth           AuthHandlerConfig
	AllowedOrigins string
	MetricsEnabled bool

	// Now overrides the clock used for quota and throttle windows (tests)
	Now func() time.Time
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	setupRoutes(router, deps)
	return router
}

func corsConfig(allowedOrigins string) cors.Config {
	allowed := make(map[string]struct{})
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if _, ok := allowed[origin]; ok {
				return true
			}
			// Allow localhost for development
			return strings.HasPrefix(origin, "http://localhost:") || origin == "http://localhost"
		},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func setupRoutes(router *gin.Engine, deps Dependencies) {
	healthHandler := NewHealthHandler(deps.Store, deps.Backend)
	keysHandler := NewKeysHandler(deps.Keys)
	authHandler := NewAuthHandler(deps.Accounts, deps.Throttle, deps.Policy, deps.Auth)
	memoHandler := NewMemoHandler(deps.Memos)
	usageHandler := NewUsageHandler(deps.Quota, deps.Policy, deps.Now)

	requireIdentity := middleware.RequireIdentity(deps.Keys, deps.Accounts, deps.Accounts)
	requireSession := middleware.RequireSession(deps.Accounts, deps.Accounts)

	// Health check endpoints
	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/ready", healthHandler.HandleReady)
	router.GET("/info", healthHandler.HandleInfo)

	if deps.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")

	// Public catalogue
	api.GET("/voices", memoHandler.HandleListVoices)
	api.GET("/tiers", usageHandler.HandleTiers)
	api.POST("/demo", middleware.DemoRateLimitMiddleware(deps.DemoLimiter, deps.Now), memoHandler.HandleDemo)

	// Account authentication, throttled per client IP
	auth := api.Group("/auth")
	{
		auth.POST("/signup", middleware.AuthThrottleMiddleware(deps.Throttle, models.ThrottleSignup, deps.Now), authHandler.HandleSignup)
		auth.POST("/login", middleware.AuthThrottleMiddleware(deps.Throttle, models.ThrottleLogin, deps.Now), authHandler.HandleLogin)
		auth.POST("/logout", authHandler.HandleLogout)
		auth.POST("/password-reset", middleware.AuthThrottleMiddleware(deps.Throttle, models.ThrottlePasswordReset, deps.Now), authHandler.HandleRequestPasswordReset)
		auth.POST("/password-reset/confirm", middleware.AuthThrottleMiddleware(deps.Throttle, models.ThrottlePasswordReset, deps.Now), authHandler.HandleConfirmPasswordReset)
	}

	// Dashboard routes: a session is required so an API key cannot manage keys
	dashboard := api.Group("", requireSession)
	{
		dashboard.GET("/account", authHandler.HandleMe)
		dashboard.POST("/keys", keysHandler.HandleCreate)
		dashboard.GET("/keys", keysHandler.HandleList)
		dashboard.GET("/keys/:id", keysHandler.HandleGet)
		dashboard.DELETE("/keys/:id", keysHandler.HandleRevoke)
	}

	// Metered API
	api.POST("/memo",
		requireIdentity,
		memoHandler.ValidateMemo,
		middleware.QuotaMiddleware(deps.Quota, deps.Keys, deps.Now),
		memoHandler.HandleCreateMemo,
	)
	api.GET("/usage", requireIdentity, usageHandler.HandleUsage)
}

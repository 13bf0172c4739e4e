package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/config"
	"github.com/hyperio-mc/agent-talk/src/database"
	"github.com/hyperio-mc/agent-talk/src/handlers"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/repositories"
	"github.com/hyperio-mc/agent-talk/src/repositories/memory"
	"github.com/hyperio-mc/agent-talk/src/services"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Int("port", cfg.Port).
		Str("storage", cfg.StorageBackend).
		Str("log_level", cfg.LogLevel).
		Msg("starting server")

	// Initialize storage
	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("storage", cfg.StorageBackend).Msg("failed to initialize storage")
	}
	defer store.Close()

	// Initialize tiers
	tiers, err := config.LoadTiers(cfg.TiersFile, services.DefaultTiers())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tiers")
	}
	policy, err := services.NewTierPolicy(tiers)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tier configuration")
	}

	// Initialize services
	keyService := services.NewKeyService(store, policy, services.KeyServiceConfig{
		CacheTTL: cfg.ValidationCacheTTL,
	})
	accountService, err := services.NewAccountService(store, policy, services.AccountServiceConfig{
		JWTSecret:  cfg.JWTSecret,
		SessionTTL: cfg.SessionTTL,
		ResetTTL:   cfg.PasswordResetTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize account service")
	}
	authThrottle := services.NewAuthThrottle(map[models.ThrottleAction]services.ThrottleConfig{
		models.ThrottleLogin:         throttleConfig(cfg.LoginThrottle),
		models.ThrottleSignup:        throttleConfig(cfg.SignupThrottle),
		models.ThrottlePasswordReset: throttleConfig(cfg.PasswordResetThrottle),
	})
	quotaGuard := services.NewQuotaGuard(policy)
	memoService := services.NewMemoService(policy, cfg.AudioBaseURL)
	demoLimiter := middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.DemoRequestsPerMinute,
		Burst:             cfg.DemoBurst,
	})

	// Expired windows and idle buckets are swept in the background
	cleanupService := services.NewCleanupService(cfg.SweepInterval, authThrottle, quotaGuard, demoLimiter)

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.Dependencies{
		Store:       store,
		Backend:     cfg.StorageBackend,
		Policy:      policy,
		Keys:        keyService,
		Accounts:    accountService,
		Throttle:    authThrottle,
		Quota:       quotaGuard,
		Memos:       memoService,
		DemoLimiter: demoLimiter,
		Auth: handlers.AuthHandlerConfig{
			SessionTTL:       cfg.SessionTTL,
			ExposeResetToken: cfg.ExposeResetToken,
			SecureCookies:    cfg.SecureCookies,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	// Create HTTP server with timeouts (G112: protect from Slowloris attack)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cleanupService.Start(gctx)
		<-gctx.Done()
		cleanupService.Stop()
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		store.Close()
		os.Exit(1)
	}

	log.Info().Msg("server shut down successfully")
}

// openStore creates the single record store backend selected at startup
func openStore(cfg *config.Config) (repositories.RecordStore, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := database.New(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		log.Info().Msg("database connected")
		return database.NewRecordStore(db), nil
	case config.StorageMemory:
		log.Warn().Msg("using in-memory storage; keys and accounts are lost on restart")
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func throttleConfig(b config.ThrottleBudget) services.ThrottleConfig {
	return services.ThrottleConfig{MaxAttempts: b.MaxAttempts, Window: b.Window}
}

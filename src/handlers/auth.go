package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/middleware"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// AuthHandler handles signup, login and password reset
type AuthHandler struct {
	accounts         *services.AccountService
	throttle         *services.AuthThrottle
	policy           *services.TierPolicy
	sessionTTL       time.Duration
	exposeResetToken bool
	secureCookies    bool
}

// AuthHandlerConfig configures session cookies and reset token exposure
type AuthHandlerConfig struct {
	SessionTTL       time.Duration
	ExposeResetToken bool
	SecureCookies    bool
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(accounts *services.AccountService, throttle *services.AuthThrottle, policy *services.TierPolicy, cfg AuthHandlerConfig) *AuthHandler {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &AuthHandler{
		accounts:         accounts,
		throttle:         throttle,
		policy:           policy,
		sessionTTL:       cfg.SessionTTL,
		exposeResetToken: cfg.ExposeResetToken,
		secureCookies:    cfg.SecureCookies,
	}
}

// CredentialsRequest is the body of signup and login
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// PasswordResetRequest starts a password reset
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordResetConfirmRequest completes a password reset
type PasswordResetConfirmRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// HandleSignup handles POST /api/v1/auth/signup
func (h *AuthHandler) HandleSignup(c *gin.Context) {
	var req CredentialsRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	account, err := h.accounts.Signup(ctx, req.Email, req.Password)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	_, token, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	h.setSessionCookie(c, token)
	c.JSON(http.StatusCreated, gin.H{
		"account": account.Public(),
		"token":   token,
	})
}

// HandleLogin handles POST /api/v1/auth/login. A successful login clears
// the caller's failed attempt budget.
func (h *AuthHandler) HandleLogin(c *gin.Context) {
	var req CredentialsRequest
	if !bindJSON(c, &req) {
		return
	}

	account, token, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	h.throttle.Clear(models.ThrottleLogin, middleware.GetClientIP(c))

	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{
		"account":    account.Public(),
		"token":      token,
		"expires_in": int64(h.sessionTTL / time.Second),
	})
}

// HandleLogout handles POST /api/v1/auth/logout
func (h *AuthHandler) HandleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.secureCookies, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// HandleRequestPasswordReset handles POST /api/v1/auth/password-reset.
// The response is identical whether or not the account exists.
func (h *AuthHandler) HandleRequestPasswordReset(c *gin.Context) {
	var req PasswordResetRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	resp := gin.H{"message": "If an account exists for this email, a reset token has been issued."}
	if token != "" {
		logger := logging.FromContext(c.Request.Context(), "auth")
		logger.Info().Msg("password reset token issued")
		if h.exposeResetToken {
			resp["reset_token"] = token
		}
	}
	c.JSON(http.StatusAccepted, resp)
}

// HandleConfirmPasswordReset handles POST /api/v1/auth/password-reset/confirm
func (h *AuthHandler) HandleConfirmPasswordReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated. Please log in again."})
}

// HandleMe handles GET /api/v1/account
func (h *AuthHandler) HandleMe(c *gin.Context) {
	account, err := h.accounts.Account(c.Request.Context(), middleware.GetOwnerID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": account.Public(),
		"limits":  h.policy.Resolve(account.Tier),
	})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, int(h.sessionTTL/time.Second), "/", "", h.secureCookies, true)
}

package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/services"
	"github.com/rs/zerolog"
)

// Context keys set by the identity middlewares
const (
	ContextOwnerID  = "owner_id"
	ContextKeyID    = "key_id"
	ContextTier     = "tier"
	ContextAuthKind = "auth_kind"
)

// SessionCookie is the dashboard session cookie name
const SessionCookie = "session_token"

// KeyValidator resolves API key secrets
type KeyValidator interface {
	Validate(ctx context.Context, secret string) (*services.KeyIdentity, error)
}

// SessionVerifier checks dashboard session tokens
type SessionVerifier interface {
	VerifySession(token string) (*services.SessionClaims, error)
}

// TierResolver looks up an owner's current subscription tier
type TierResolver interface {
	TierFor(ctx context.Context, ownerID string) (models.TierName, error)
}

// RequireIdentity authenticates with either an API key or a session token
// and stores the owner, key and tier in the context.
func RequireIdentity(keys KeyValidator, sessions SessionVerifier, tiers TierResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			RespondError(c, services.NewError(services.KindMissingAPIKey, "API key is required. Send it as 'Authorization: Bearer <key>'."))
			return
		}

		if secret, ok := services.ExtractKeyFromHeader(header); ok {
			id, err := keys.Validate(c.Request.Context(), secret)
			if err != nil {
				RespondError(c, err)
				return
			}
			c.Set(ContextKeyID, id.KeyID)
			establish(c, tiers, id.OwnerID, models.AuthKindAPIKey)
			return
		}

		token := bearerToken(header)
		if !looksLikeJWT(token) {
			RespondError(c, services.NewError(services.KindInvalidKeyFormat, "API key format is invalid. Keys start with live_ or test_."))
			return
		}
		claims, err := sessions.VerifySession(token)
		if err != nil {
			RespondError(c, err)
			return
		}
		establish(c, tiers, claims.OwnerID, models.AuthKindSession)
	}
}

// RequireSession only accepts dashboard sessions, from the Authorization
// header or the session cookie. Key management routes use it so a leaked
// API key cannot mint or revoke keys.
func RequireSession(sessions SessionVerifier, tiers TierResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(strings.TrimSpace(c.GetHeader("Authorization")))
		if token == "" {
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				token = cookie
			}
		}
		if !looksLikeJWT(token) {
			RespondError(c, services.NewError(services.KindUnauthorized, "A dashboard session is required."))
			return
		}

		claims, err := sessions.VerifySession(token)
		if err != nil {
			RespondError(c, err)
			return
		}
		establish(c, tiers, claims.OwnerID, models.AuthKindSession)
	}
}

func establish(c *gin.Context, tiers TierResolver, ownerID string, kind models.AuthKind) {
	tier, err := tiers.TierFor(c.Request.Context(), ownerID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			err = services.NewError(services.KindUnauthorized, "Account no longer exists.")
		}
		RespondError(c, err)
		return
	}

	c.Set(ContextOwnerID, ownerID)
	c.Set(ContextTier, tier)
	c.Set(ContextAuthKind, kind)

	logger := zerolog.Ctx(c.Request.Context()).With().
		Str("owner_id", ownerID).
		Str("auth_kind", string(kind)).
		Logger()
	c.Request = c.Request.WithContext(logging.IntoContext(c.Request.Context(), logger))

	c.Next()
}

func bearerToken(header string) string {
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// GetOwnerID returns the authenticated owner
func GetOwnerID(c *gin.Context) string {
	return c.GetString(ContextOwnerID)
}

// GetKeyID returns the API key used for the request, or "" for sessions
func GetKeyID(c *gin.Context) string {
	return c.GetString(ContextKeyID)
}

// GetTier returns the owner's tier
func GetTier(c *gin.Context) models.TierName {
	if v, ok := c.Get(ContextTier); ok {
		if tier, ok := v.(models.TierName); ok {
			return tier
		}
	}
	return ""
}

// GetAuthKind returns how the request was authenticated
func GetAuthKind(c *gin.Context) models.AuthKind {
	if v, ok := c.Get(ContextAuthKind); ok {
		if kind, ok := v.(models.AuthKind); ok {
			return kind
		}
	}
	return ""
}

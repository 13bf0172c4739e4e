package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/services"
)

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries the machine readable code and optional details
type ErrorPayload struct {
	Code    services.ErrorKind     `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidKeyFormat, services.KindInvalidKey, services.KindRevokedKey,
		services.KindUnauthorized, services.KindMissingAPIKey, services.KindInvalidCredentials:
		return http.StatusUnauthorized
	case services.KindDailyLimitExceeded, services.KindRateLimited:
		return http.StatusTooManyRequests
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindLimitExceeded, services.KindInsufficientTier:
		return http.StatusForbidden
	case services.KindValidation, services.KindInvalidVoice:
		return http.StatusBadRequest
	case services.KindAccountExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a JSON error envelope and aborts the chain.
// Internal failures are logged in full and rendered without detail.
func RespondError(c *gin.Context, err error) {
	apiErr := services.AsAPIError(err)
	status := StatusFor(apiErr.Kind)

	payload := ErrorPayload{Code: apiErr.Kind, Message: apiErr.Message, Details: apiErr.Details}
	if status == http.StatusInternalServerError {
		logger := logging.FromContext(c.Request.Context(), "http")
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("internal error")
		payload = ErrorPayload{Code: apiErr.Kind, Message: "An internal error occurred. Please try again later."}
	}

	if retry, ok := services.RetryAfter(apiErr); ok {
		c.Header("Retry-After", strconv.FormatInt(retry, 10))
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorBody{Error: payload})
}

package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrorKind is the machine readable error code sent to clients
type ErrorKind string

const (
	KindInvalidKeyFormat   ErrorKind = "INVALID_KEY_FORMAT"
	KindInvalidKey         ErrorKind = "INVALID_API_KEY"
	KindRevokedKey         ErrorKind = "REVOKED_KEY"
	KindLimitExceeded      ErrorKind = "KEY_LIMIT_EXCEEDED"
	KindDailyLimitExceeded ErrorKind = "DAILY_LIMIT_EXCEEDED"
	KindRateLimited        ErrorKind = "RATE_LIMIT_EXCEEDED"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindInternalStore      ErrorKind = "STORAGE_ERROR"

	KindUnauthorized       ErrorKind = "UNAUTHORIZED"
	KindMissingAPIKey      ErrorKind = "MISSING_API_KEY"
	KindInvalidVoice       ErrorKind = "INVALID_VOICE"
	KindValidation         ErrorKind = "VALIDATION_ERROR"
	KindInsufficientTier   ErrorKind = "INSUFFICIENT_TIER"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindAccountExists      ErrorKind = "ACCOUNT_EXISTS"
)

// Sentinel errors for explicit error handling.
// Every *APIError matches the sentinel of its kind with errors.Is.
var (
	ErrInvalidKeyFormat   = errors.New("invalid API key format")
	ErrInvalidKey         = errors.New("invalid API key")
	ErrRevokedKey         = errors.New("API key has been revoked")
	ErrLimitExceeded      = errors.New("API key limit reached")
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrNotFound           = errors.New("not found")
	ErrInternalStore      = errors.New("internal store error")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrMissingAPIKey      = errors.New("API key is required")
	ErrInvalidVoice       = errors.New("invalid voice")
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientTier   = errors.New("insufficient tier")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
)

var sentinels = map[ErrorKind]error{
	KindInvalidKeyFormat:   ErrInvalidKeyFormat,
	KindInvalidKey:         ErrInvalidKey,
	KindRevokedKey:         ErrRevokedKey,
	KindLimitExceeded:      ErrLimitExceeded,
	KindDailyLimitExceeded: ErrDailyLimitExceeded,
	KindRateLimited:        ErrRateLimited,
	KindNotFound:           ErrNotFound,
	KindInternalStore:      ErrInternalStore,
	KindUnauthorized:       ErrUnauthorized,
	KindMissingAPIKey:      ErrMissingAPIKey,
	KindInvalidVoice:       ErrInvalidVoice,
	KindValidation:         ErrValidation,
	KindInsufficientTier:   ErrInsufficientTier,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindAccountExists:      ErrAccountExists,
}

// APIError is a classified failure that the HTTP layer renders as
// {"error": {"code", "message", "details"}}.
type APIError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}

	// cause is logged server side and never rendered
	cause error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the sentinel error for the kind
func (e *APIError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// NewError creates an APIError without details
func NewError(kind ErrorKind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// StoreError wraps a backend failure as InternalStoreError
func StoreError(op string, cause error) *APIError {
	return &APIError{
		Kind:    KindInternalStore,
		Message: "internal storage error",
		cause:   fmt.Errorf("%s: %w", op, cause),
	}
}

// DailyLimitError reports an exhausted daily quota
func DailyLimitError(limit, used int64, resetAt time.Time) *APIError {
	return &APIError{
		Kind:    KindDailyLimitExceeded,
		Message: fmt.Sprintf("Daily limit of %d calls reached. Resets at %s.", limit, resetAt.UTC().Format(time.RFC3339)),
		Details: map[string]interface{}{
			"limit":    limit,
			"used":     used,
			"reset_at": resetAt.UTC().Format(time.RFC3339),
		},
	}
}

// RateLimitError reports a throttled request with the seconds to wait
func RateLimitError(message string, retryAfter int64) *APIError {
	return &APIError{
		Kind:    KindRateLimited,
		Message: message,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// InsufficientTierError reports a feature gated to a higher tier
func InsufficientTierError(message, required, current string) *APIError {
	return &APIError{
		Kind:    KindInsufficientTier,
		Message: message,
		Details: map[string]interface{}{
			"required_tier": required,
			"current_tier":  current,
		},
	}
}

// RetryAfter returns the retry_after detail of a rate limit error, if any
func RetryAfter(err error) (int64, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Details == nil {
		return 0, false
	}
	switch v := apiErr.Details["retry_after"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// AsAPIError classifies err, treating anything unclassified as an internal failure
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Kind: KindInternalStore, Message: "internal error", cause: err}
}

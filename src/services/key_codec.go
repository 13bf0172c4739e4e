package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperio-mc/agent-talk/src/models"
)

const (
	// keyEntropyBytes is the random part of a key before encoding (256 bits)
	keyEntropyBytes = 32

	// keyBodyLength is the base64url length of keyEntropyBytes without padding
	keyBodyLength = 43

	maskVisibleTail = 6
	maskFiller      = "***..."
)

// GenerateKey returns a new secret and its prefix.
// The only failure source is the system random number generator.
func GenerateKey(isTest bool) (secret string, prefix string, err error) {
	prefix = models.KeyPrefixLive
	if isTest {
		prefix = models.KeyPrefixTest
	}

	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return prefix + base64.RawURLEncoding.EncodeToString(buf), prefix, nil
}

// HashKey returns the hex SHA-256 digest used as the lookup index
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix returns the recognised prefix of s, or "" if it has none
func KeyPrefix(s string) string {
	switch {
	case strings.HasPrefix(s, models.KeyPrefixLive):
		return models.KeyPrefixLive
	case strings.HasPrefix(s, models.KeyPrefixTest):
		return models.KeyPrefixTest
	}
	return ""
}

// IsWellFormedKey reports whether s has a known prefix followed by a
// base64url body of the generated length.
func IsWellFormedKey(s string) bool {
	prefix := KeyPrefix(s)
	if prefix == "" {
		return false
	}
	body := s[len(prefix):]
	if len(body) != keyBodyLength {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// MaskKey returns prefix + "***..." + the last six characters.
// Input that is not a well formed key masks to "".
func MaskKey(secret string) string {
	if !IsWellFormedKey(secret) {
		return ""
	}
	return KeyPrefix(secret) + maskFiller + secret[len(secret)-maskVisibleTail:]
}

// ExtractKeyFromHeader pulls an API key out of an Authorization header value.
// Both "Bearer <key>" and a bare key are accepted.
func ExtractKeyFromHeader(headerValue string) (string, bool) {
	value := strings.TrimSpace(headerValue)
	if value == "" {
		return "", false
	}

	if scheme, rest, found := strings.Cut(value, " "); found && strings.EqualFold(scheme, "Bearer") {
		value = strings.TrimSpace(rest)
	}

	if KeyPrefix(value) == "" {
		return "", false
	}
	return value, true
}

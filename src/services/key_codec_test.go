package services

import (
	"strings"
	"testing"

	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_PrefixAndShape(t *testing.T) {
	live, prefix, err := GenerateKey(false)
	require.NoError(t, err)
	assert.Equal(t, models.KeyPrefixLive, prefix)
	assert.True(t, strings.HasPrefix(live, "live_"))
	assert.True(t, IsWellFormedKey(live))

	test, prefix, err := GenerateKey(true)
	require.NoError(t, err)
	assert.Equal(t, models.KeyPrefixTest, prefix)
	assert.True(t, strings.HasPrefix(test, "test_"))
	assert.True(t, IsWellFormedKey(test))
}

func TestGenerateKey_NoCollisions(t *testing.T) {
	const n = 100000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		secret, _, err := GenerateKey(i%2 == 0)
		require.NoError(t, err)
		_, dup := seen[secret]
		require.False(t, dup, "duplicate key generated")
		seen[secret] = struct{}{}
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	secret, _, err := GenerateKey(false)
	require.NoError(t, err)

	assert.Equal(t, HashKey(secret), HashKey(secret))
	assert.Len(t, HashKey(secret), 64)
	assert.NotEqual(t, HashKey(secret), HashKey(secret+"x"))
}

func TestMaskKey(t *testing.T) {
	secret, _, err := GenerateKey(false)
	require.NoError(t, err)

	masked := MaskKey(secret)
	assert.True(t, strings.HasPrefix(masked, "live_***..."))
	assert.True(t, strings.HasSuffix(masked, secret[len(secret)-6:]))
	assert.Less(t, len(masked), len(secret))
	assert.NotContains(t, masked, secret[5:len(secret)-6])
}

func TestMaskKey_MalformedInput(t *testing.T) {
	for _, in := range []string{"", "live_", "live_short", "sk_abcdef", "test_" + strings.Repeat("!", 43)} {
		assert.Equal(t, "", MaskKey(in), "input %q", in)
	}
}

func TestExtractKeyFromHeader(t *testing.T) {
	secret, _, err := GenerateKey(true)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"bearer", "Bearer " + secret, secret, true},
		{"lowercase scheme", "bearer " + secret, secret, true},
		{"bare key", secret, secret, true},
		{"padded", "  Bearer   " + secret + "  ", secret, true},
		{"empty", "", "", false},
		{"bearer only", "Bearer ", "", false},
		{"unknown prefix", "Bearer sk_abcdef", "", false},
		{"jwt", "Bearer eyJhbGciOiJIUzI1NiJ9.e30.sig", "", false},
		{"basic auth", "Basic dXNlcjpwYXNz", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractKeyFromHeader(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

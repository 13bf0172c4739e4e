package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWithWriter(Config{Level: "info", Format: "json"}, &buf)

	logger := NewLogger("quota")
	logger.Info().Str("identity", "owner-1").Msg("admitted")
	logger.Debug().Msg("hidden")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "quota", entry["component"])
	assert.Equal(t, "owner-1", entry["identity"])
	assert.Equal(t, "admitted", entry["message"])
}

func TestFromContext_UsesRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupWithWriter(Config{Level: "debug"}, &buf)

	ctx := IntoContext(context.Background(), WithRequestID("abcd1234"))
	logger := FromContext(ctx, "keys")
	logger.Info().Msg("created")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "abcd1234", entry["request_id"])
	assert.Equal(t, "keys", entry["component"])
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	SetupWithWriter(Config{Level: "info"}, &buf)

	logger := FromContext(context.Background(), "sweeper")
	logger.Info().Msg("tick")

	assert.Contains(t, buf.String(), `"component":"sweeper"`)
}

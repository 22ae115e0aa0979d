package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "quiz-arena", "production", "warn")

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Str("room_code", "123456").Msg("visible")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "quiz-arena", line["app"])
	assert.Equal(t, "production", line["env"])
	assert.Equal(t, "123456", line["room_code"])
	assert.Equal(t, "warn", line["level"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "quiz-arena", "test", "chatty")
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "quiz-arena", "test", "info")

	ctx := IntoContext(context.Background(), logger)
	fromCtx := FromContext(ctx)
	fromCtx.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	buf.Reset()
	fallback := FromContext(context.Background())
	fallback.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}

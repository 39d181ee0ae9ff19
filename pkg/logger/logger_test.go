package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" INFO ", LevelInfo},
		{"warning", LevelWarn},
		{"WARN", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelDebug, Format: FormatJSON})

	log.With(Component("ledger")).Info("completion recorded",
		UserID("u-1"),
		ActivityID("morning-prayer"),
		XPAmount(60),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "completion recorded", entry["msg"])
	assert.Equal(t, "ledger", entry["component"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, "morning-prayer", entry["activity_id"])
	assert.EqualValues(t, 60, entry["xp_amount"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn, Format: FormatLogfmt})

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.True(t, log.Enabled(LevelError))
	assert.False(t, log.Enabled(LevelInfo))

	buf.Reset()
	log.WithLevel(LevelDebug).Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: FormatLogfmt}).WithRequestID("req-42")

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("hello")

	assert.True(t, strings.Contains(buf.String(), "req-42"))
	assert.NotNil(t, FromContext(context.Background()))
}

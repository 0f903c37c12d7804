package safeailog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{Logger: slog.New(handler).With(slog.String("component", "test"))}
}

func TestDecisionLogsWarnOnBlock(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Decision("input", "block", "matched secret")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "block", record["action"])
}

func TestDecisionLogsInfoOnAllow(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Decision("input", "allow", "default allow")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
}

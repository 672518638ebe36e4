package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestWithContext_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := globalLogger
	globalLogger = slog.New(NewHandler(&buf, Config{Level: "info", Format: "json"}))
	defer func() { globalLogger = prev }()

	ctx := WithTraceID(WithRequestID(context.Background(), "req-1"), "trace-9")
	assert.Equal(t, "req-1", RequestID(ctx))
	Info(ctx, "hello", "k", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "trace-9", line["trace_id"])
	assert.Equal(t, float64(1), line["k"])
}

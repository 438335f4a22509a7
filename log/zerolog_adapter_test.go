package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pilab-dev/shadow-auth/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := log.FromZerolog(log.NewZerolog(&buf, zerolog.DebugLevel, false)).
		With(log.Fields{"component": "test"})

	logger.Error(context.Background(), "store failed", errors.New("boom"), log.Fields{"key": "auth:refresh:1"})

	entry := decode(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "store failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "auth:refresh:1", entry["key"])
	assert.NotContains(t, entry, "trace_id")
}

func TestZerologAdapter_TraceInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := log.FromZerolog(log.NewZerolog(&buf, zerolog.InfoLevel, false))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Info(ctx, "traced")

	entry := decode(t, &buf)
	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, spanID.String(), entry["span_id"])
}

func TestZerologAdapter_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := log.FromZerolog(log.NewZerolog(&buf, zerolog.WarnLevel, false))

	logger.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	logger.Warn(context.Background(), "kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	level, err := log.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)

	level, err = log.ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	level, err = log.ParseLevel("")
	assert.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)
}

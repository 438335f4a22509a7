package tracing_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/pilab-dev/shadow-auth/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := tracing.InitTracerProvider(ctx, "shadow-auth-test", true, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "grant")
	span.End()
	require.NoError(t, shutdown(ctx))

	assert.Contains(t, buf.String(), `"Name":"grant"`)
	assert.Contains(t, buf.String(), "shadow-auth-test")
}

func TestInitTracerProvider_Disabled(t *testing.T) {
	shutdown, err := tracing.InitTracerProvider(context.Background(), "", false, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

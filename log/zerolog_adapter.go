package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// zerologAdapter wraps a zerolog.Logger to implement Logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger writing to stderr.
func NewZerologAdapter(level zerolog.Level, pretty bool) Logger {
	return &zerologAdapter{logger: NewZerolog(os.Stderr, level, pretty)}
}

// NewZerolog builds the zerolog.Logger shared by the adapter and the global
// logger. pretty selects the human-readable console format.
func NewZerolog(out io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// SetGlobal installs l as the package-level zerolog logger used by the
// services and stores.
func SetGlobal(l zerolog.Logger) {
	zlog.Logger = l
	zerolog.DefaultContextLogger = &zlog.Logger
}

// ParseLevel falls back to info for unknown or empty levels.
func ParseLevel(level string) (zerolog.Level, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel, err
	}
	return parsed, nil
}

// FromZerolog adapts an existing zerolog.Logger.
func FromZerolog(l zerolog.Logger) Logger {
	return &zerologAdapter{logger: l}
}

// addTraceInfo adds trace_id and span_id when ctx carries a valid span.
func addTraceInfo(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if ctx == nil {
		return event
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		event = event.Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}
	return event
}

func emit(ctx context.Context, event *zerolog.Event, msg string, fields []Fields) {
	event = addTraceInfo(ctx, event)
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Debug(ctx context.Context, msg string, fields ...Fields) {
	emit(ctx, z.logger.Debug(), msg, fields)
}

func (z *zerologAdapter) Info(ctx context.Context, msg string, fields ...Fields) {
	emit(ctx, z.logger.Info(), msg, fields)
}

func (z *zerologAdapter) Warn(ctx context.Context, msg string, fields ...Fields) {
	emit(ctx, z.logger.Warn(), msg, fields)
}

func (z *zerologAdapter) Error(ctx context.Context, msg string, err error, fields ...Fields) {
	emit(ctx, z.logger.Error().Err(err), msg, fields)
}

func (z *zerologAdapter) Fatal(ctx context.Context, msg string, err error, fields ...Fields) {
	emit(ctx, z.logger.Fatal().Err(err), msg, fields)
}

// With returns a logger carrying fields. Trace ids are added per call so they
// always match the current span.
func (z *zerologAdapter) With(fields Fields) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}

package log

import "context"

// Fields are structured key/value pairs attached to a log entry.
type Fields = map[string]any

// Logger is the process-level logging interface used by the server wiring.
// Request-scoped code logs through zerolog directly.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields) // exits the process
	With(fields Fields) Logger
}

package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.UserID != "" {
		logger = logger.With().Str("user_id", tc.UserID).Logger()
	}
	if tc.SessionID != "" {
		logger = logger.With().Str("session_id", tc.SessionID).Logger()
	}
	if tc.RequestID != "" {
		logger = logger.With().Str("request_id", tc.RequestID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context carrying the tracing values and the
// active span of ctx, but none of its deadline or cancellation. Work that
// outlives the caller's request starts from it.
func Detach(ctx context.Context) context.Context {
	detached := NewContext(context.Background(), FromContext(ctx))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		detached = trace.ContextWithSpanContext(detached, sc)
	}
	return detached
}

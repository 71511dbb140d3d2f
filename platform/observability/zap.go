package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceFields возвращает zap-поля trace_id и span_id, если в ctx есть валидный span
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// L возвращает logger для текущей операции: base с trace_id/span_id текущего span-а.
// Если base == nil, берётся logger запроса из контекста (HTTPMiddleware), затем zap.NewNop.
func L(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = LoggerFromContext(ctx)
	}
	if base == nil {
		return zap.NewNop()
	}
	fields := TraceFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

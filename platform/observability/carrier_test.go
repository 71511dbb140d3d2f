package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectExtractHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	headers := InjectHeaders(ctx)
	require.Contains(t, headers, "traceparent")

	restored := ExtractHeaders(context.Background(), headers)
	sc := trace.SpanContextFromContext(restored)
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())

	kh := KafkaHeaders(headers)
	require.Len(t, kh, len(headers))
	assert.Equal(t, headers[kh[0].Key], string(kh[0].Value))
}

func TestExtractHeaders_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractHeaders(ctx, nil))
}

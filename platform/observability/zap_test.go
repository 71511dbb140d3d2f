package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestL_AddsTraceFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	L(ctx, base).Info("with span")
	L(context.Background(), base).Info("without span")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, span.SpanContext().TraceID().String(), entries[0].ContextMap()["trace_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

func TestL_NilBase(t *testing.T) {
	assert.NotNil(t, L(context.Background(), nil))

	core, logs := observer.New(zap.InfoLevel)
	ctx := withLogger(context.Background(), zap.New(core))
	L(ctx, nil).Info("from request")
	assert.Equal(t, 1, logs.Len())
}

func TestHTTPMiddleware_PutsLoggerIntoContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	router := chi.NewRouter()
	router.Use(HTTPMiddleware("test", zap.New(core)))
	router.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger := LoggerFromContext(r.Context())
		require.NotNil(t, logger)
		logger.Info("handled")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1, logs.Len())
}

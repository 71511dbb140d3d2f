package observability

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// HeadersCarrier адаптирует заголовки outbox-события (map) к propagation.TextMapCarrier
type HeadersCarrier map[string]string

// Get возвращает значение по ключу
func (c HeadersCarrier) Get(key string) string {
	return c[key]
}

// Set устанавливает пару key-value
func (c HeadersCarrier) Set(key, value string) {
	c[key] = value
}

// Keys возвращает все ключи
func (c HeadersCarrier) Keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	return out
}

// InjectHeaders сохраняет trace context из ctx в заголовки события.
// Dispatcher публикует их как Kafka headers, поэтому трасса продолжается у консюмера.
func InjectHeaders(ctx context.Context) map[string]string {
	headers := HeadersCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	return headers
}

// ExtractHeaders восстанавливает trace context из заголовков события
func ExtractHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, HeadersCarrier(headers))
}

// KafkaHeaders конвертирует заголовки события в заголовки kafka.Message
func KafkaHeaders(headers map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

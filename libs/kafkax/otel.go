package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders appends the W3C trace context to Kafka headers so a
// consumer can continue the producing request's trace.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return c.headers
}

// ExtractTraceContext rebuilds a context from the message trace headers.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: msg.Headers})
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	return headerValue(c.headers, key)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c headerCarrier) Set(key, value string) {
	// Overwrite in place so repeated injection cannot duplicate a header.
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

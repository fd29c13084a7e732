package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier_GetSet(t *testing.T) {
	headers := []kafka.Header{{Key: "event_id", Value: []byte("evt-1")}}
	carrier := &KafkaHeaderCarrier{headers: &headers}

	assert.Equal(t, "evt-1", carrier.Get("event_id"))
	assert.Empty(t, carrier.Get("traceparent"))

	carrier.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	carrier.Set("event_id", "evt-2")

	assert.Equal(t, "evt-2", carrier.Get("event_id"))
	assert.Len(t, headers, 2, "overwrite must not append a duplicate header")
	assert.ElementsMatch(t, []string{"event_id", "traceparent"}, carrier.Keys())
}

func TestKafkaHeaderCarrier_Empty(t *testing.T) {
	var headers []kafka.Header
	carrier := &KafkaHeaderCarrier{headers: &headers}

	assert.Empty(t, carrier.Keys())
	assert.Empty(t, carrier.Get("anything"))
}

func TestKafkaHeaderCarrier_PropagatesSpanContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	propagator := propagation.TraceContext{}

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish product_created")
	defer span.End()

	var headers []kafka.Header
	propagator.Inject(ctx, &KafkaHeaderCarrier{headers: &headers})
	require.NotEmpty(t, headers)

	// A consumer reading the same headers continues the trace.
	received := append([]kafka.Header(nil), headers...)
	extracted := trace.SpanContextFromContext(
		propagator.Extract(context.Background(), &KafkaHeaderCarrier{headers: &received}),
	)

	assert.True(t, extracted.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), extracted.SpanID())
}

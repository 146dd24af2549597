package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMessageCarrier(t *testing.T) {
	t.Parallel()

	c := &MessageCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	c.Set("baggage", "k=v")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"traceparent", "baggage"}, c.Keys())
}

func TestExtractTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	carrier := &MessageCarrier{}
	propagation.TraceContext{}.Inject(trace.ContextWithSpanContext(context.Background(), sc), carrier)

	msg := &sarama.ConsumerMessage{Topic: "sm_dataset_status"}
	for i := range carrier.Headers {
		msg.Headers = append(msg.Headers, &carrier.Headers[i])
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), msg))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.True(t, got.IsRemote())
}

package messaging

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeadersCarryTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	out := toKafka(ctx, []byte("ORD-42"), []byte(`{"id":42}`), map[string]string{HeaderEventType: "order.paused"})
	out.Topic = "tiffin.orders"
	out.Offset = 7

	gotCtx, msg := fromKafka(context.Background(), out)
	if msg.Headers[HeaderEventType] != "order.paused" || string(msg.Key) != "ORD-42" || msg.Offset != 7 {
		t.Fatalf("message = %+v", msg)
	}
	if _, ok := msg.Headers["traceparent"]; !ok {
		t.Fatalf("traceparent header missing: %v", msg.Headers)
	}
	got := trace.SpanContextFromContext(gotCtx)
	if got.TraceID() != traceID || !got.IsRemote() {
		t.Fatalf("span context = %+v", got)
	}
}

func TestFromKafkaWithoutHeaders(t *testing.T) {
	ctx := context.Background()
	gotCtx, msg := fromKafka(ctx, kafka.Message{Value: []byte("x")})
	if msg.Headers != nil || gotCtx != ctx {
		t.Fatalf("unexpected headers %v", msg.Headers)
	}
}

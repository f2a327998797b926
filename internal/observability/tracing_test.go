package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, "tgate-test"), rec
}

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer.config.ServiceName != "tgate" {
		t.Errorf("ServiceName = %q, want tgate", tracer.config.ServiceName)
	}
	_, span := tracer.TraceUpdate(context.Background(), "main", "42")
	span.End()
}

func TestNilTracerIsNoop(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceSend(context.Background(), "main", "42", "text")
	tracer.RecordError(span, errors.New("boom"))
	span.End()
	if GetTraceID(ctx) != "" {
		t.Error("nil tracer should not start a trace")
	}
}

func TestTraceSpans(t *testing.T) {
	tracer, rec := recordingTracer(t)

	ctx, inbound := tracer.TraceUpdate(context.Background(), "main", "42")
	if GetTraceID(ctx) == "" {
		t.Fatal("expected an active trace id")
	}
	_, send := tracer.TraceSend(ctx, "main", "42", "text")
	tracer.RecordError(send, errors.New("chat not found"))
	tracer.SetAttributes(send, "telegram.message_id", 7, 99, "ignored")
	send.End()
	inbound.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	s := spans[0]
	if s.Name() != "telegram.send" || s.SpanKind() != trace.SpanKindClient {
		t.Errorf("span = %s/%s", s.Name(), s.SpanKind())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
	if s.Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("send span should be a child of the inbound span")
	}
	want := map[attribute.Key]bool{"telegram.send_kind": false, "telegram.message_id": false}
	for _, kv := range s.Attributes() {
		if _, ok := want[kv.Key]; ok {
			want[kv.Key] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("missing attribute %s", k)
		}
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{3, attribute.INT64},
		{int64(3), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%v) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}

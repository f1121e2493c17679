package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestInit_EnabledRequiresURL(t *testing.T) {
	if _, err := Init(Config{Enabled: true}); err == nil {
		t.Error("expected error for missing jaeger url")
	}
}

func TestStartSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	if span == nil {
		t.Error("expected non-nil span")
	}
	span.End()
}

func TestAddSpanAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	ctx, span := TraceCall(context.Background(), "initiate", "session-1", "audio")
	AddSpanAttributes(ctx, PhaseKey.String("connected"))
	span.End()

	// no span on ctx is a no-op
	AddSpanAttributes(context.Background(), attribute.Int("ignored", 1))

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	found := false
	for _, kv := range ended[0].Attributes() {
		if kv.Key == PhaseKey && kv.Value.AsString() == "connected" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected call.phase attribute, got %v", ended[0].Attributes())
	}
}

func TestCallSpansAreRecorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	ctx := context.Background()

	_, callSpan := TraceCall(ctx, "start", "session-1", "video")
	EndSpan(callSpan, nil)

	_, negSpan := TraceNegotiation(ctx, "offer", "session-1", "bob", 2)
	EndSpan(negSpan, errors.New("answer timeout"))

	_, relaySpan := TraceRelayMessage(ctx, "publish", "session-1", "bob", "answer")
	relaySpan.End()

	_, sigSpan := TraceSignaling(ctx, "subscribe", "redis")
	sigSpan.End()

	_, httpSpan := TraceHTTPRequest(ctx, "GET", "/health")
	httpSpan.End()

	ended := recorder.Ended()
	if len(ended) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(ended))
	}
	if ended[0].Name() != "call.start" {
		t.Errorf("unexpected span name %q", ended[0].Name())
	}
	if ended[1].Name() != "webrtc.offer" {
		t.Errorf("unexpected span name %q", ended[1].Name())
	}
	if ended[1].Status().Code != codes.Error {
		t.Errorf("expected error status on failed negotiation span")
	}
	if ended[2].Name() != "relay.publish" || ended[3].Name() != "signaling.subscribe" {
		t.Errorf("unexpected span names %q, %q", ended[2].Name(), ended[3].Name())
	}
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	ctx, span := StartSpan(context.Background(), "test")
	RecordError(ctx, errors.New("test error"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Status().Code != codes.Error {
		t.Fatalf("expected one errored span, got %+v", ended)
	}
}

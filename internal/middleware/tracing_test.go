package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func TestTracing_SpanNameUsesRoute(t *testing.T) {
	recorder := withRecorder(t)

	var traceID string
	handler := Tracing("foryou-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = GetTraceID(r)
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/experiments/profiles/B", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if name := spans[0].Name(); name != "GET /experiments/profiles/{variant}" {
		t.Errorf("unexpected span name %q", name)
	}
	if traceID != spans[0].SpanContext().TraceID().String() {
		t.Errorf("handler saw trace %q, span has %q", traceID, spans[0].SpanContext().TraceID())
	}
}

func TestTracing_SkipsHealthChecks(t *testing.T) {
	recorder := withRecorder(t)

	handler := Tracing("foryou-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("expected no spans for /health, got %d", n)
	}
}

func TestGetTraceID_NoSpan(t *testing.T) {
	if id := GetTraceID(httptest.NewRequest(http.MethodGet, "/feed", nil)); id != "" {
		t.Errorf("expected empty trace id, got %q", id)
	}
}

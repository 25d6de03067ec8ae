package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query with table", "candidates", DBOperationQuery, "query candidates"},
		{"copy with table", "exposures", DBOperationCopy, "copy exposures"},
		{"exec without table", "", DBOperationExec, "exec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("expected span name %q, got %q", tt.wantName, span.Name())
			}
			if v, ok := attrValue(span.Attributes(), "db.system"); !ok || v.AsString() != "postgresql" {
				t.Errorf("expected db.system=postgresql, got %v", v.AsString())
			}
			_, hasTable := attrValue(span.Attributes(), "db.sql.table")
			if hasTable != (tt.table != "") {
				t.Errorf("db.sql.table present=%v, want %v", hasTable, tt.table != "")
			}
		})
	}
}

func TestStartDBSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartDBSpan(context.Background(), "candidates", DBOperationQuery)
	endSpan(errors.New("connection refused"))

	span := recorder.Ended()[0]
	if span.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", span.Status().Code)
	}
	if len(span.Events()) == 0 {
		t.Error("expected an exception event to be recorded")
	}
}

func TestStartCacheSpan(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartCacheSpan(context.Background(), "mget", 3)
	endSpan(nil)

	span := recorder.Ended()[0]
	if span.Name() != "redis mget" {
		t.Errorf("expected span name %q, got %q", "redis mget", span.Name())
	}
	if v, _ := attrValue(span.Attributes(), "cache.keys"); v.AsInt64() != 3 {
		t.Errorf("expected cache.keys=3, got %d", v.AsInt64())
	}
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	recorder := newRecorder(t)

	ctx, endParent := StartSpan(context.Background(), "feed")
	_, endChild := StartSpan(ctx, "score")
	AddEvent(ctx, "pool_loaded", attribute.Int("size", 10))
	SetAttributes(ctx, attribute.String("variant", "A"))
	endChild(nil)
	endParent(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("expected child span to reference parent")
	}
	if v, ok := attrValue(parent.Attributes(), "variant"); !ok || v.AsString() != "A" {
		t.Error("expected variant attribute on parent span")
	}
	if len(parent.Events()) != 1 {
		t.Errorf("expected 1 event on parent, got %d", len(parent.Events()))
	}
}

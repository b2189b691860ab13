package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer("test"),
	}, exporter
}

func spanAttributes(t *testing.T, exporter *tracetest.InMemoryExporter) map[attribute.Key]attribute.Value {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestStartFinalizeSpanAttributes(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	_, span := tracer.StartFinalizeSpan(context.Background(), "acme/prod", "aggressive", true)
	span.End()

	attrs := spanAttributes(t, exporter)
	if got := attrs[AttrScopePath].AsString(); got != "acme/prod" {
		t.Errorf("scope path attribute = %q, want acme/prod", got)
	}
	if got := attrs[AttrStrategy].AsString(); got != "aggressive" {
		t.Errorf("strategy attribute = %q, want aggressive", got)
	}
	if !attrs["finalize.dry_run"].AsBool() {
		t.Error("expected dry-run attribute to be true")
	}
}

func TestStartDeleteSpanAttributes(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	_, span := tracer.StartDeleteSpan(context.Background(), "acme/prod", "db-main", "database")
	span.End()

	attrs := spanAttributes(t, exporter)
	if got := attrs[AttrResourceID].AsString(); got != "db-main" {
		t.Errorf("resource id attribute = %q, want db-main", got)
	}
	if got := attrs[AttrResourceType].AsString(); got != "database" {
		t.Errorf("resource type attribute = %q, want database", got)
	}
}

package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "siimp"),
		attribute.String("invoice_id", "456"),
		attribute.String("status_code", "200"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "invoice_id" {
			t.Fatalf("invoice_id must not be used as a label")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordUpstreamRequest(ctx, "siimp", "/invoices/search", 200, time.Millisecond)
	m.AddFetchCalls(ctx, "range", 3)
	m.RecordEnrichmentFailure(ctx, "http")
	m.RecordBatchRow(ctx, "pay", true)
	m.AddInvoicesWritten(ctx, "search", 10)
}

func TestNoopRecords(t *testing.T) {
	m := Noop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordReconcileRow(context.Background(), "paid")
}

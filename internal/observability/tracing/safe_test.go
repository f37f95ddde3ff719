package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsTaxIDs(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("owner_cnpj", "12345678000190"),
		attribute.Int("invoice.id", 42),
	)
	if len(attrs) != 1 || attrs[0].Key != "invoice.id" {
		t.Fatalf("expected only invoice.id, got %v", attrs)
	}
}

func TestSafeErrorRedactsSession(t *testing.T) {
	err := SafeError(errors.New("dac: HTTP 401 Set-Cookie: PHPSESSID=abc123; path=/"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); got != "dac: HTTP 401 Set-Cookie: PHPSESSID=[redacted]" {
		t.Fatalf("unexpected message %q", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

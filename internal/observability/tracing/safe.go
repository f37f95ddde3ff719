package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"owner_document": {},
	"owner_cnpj":     {},
	"api_key":        {},
	"cookie":         {},
}

// SafeAttributes drops attributes that could leak tax ids or credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message is safe to record on a span.
// Session cookies echoed back by the legacy backend are redacted.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if idx := strings.Index(strings.ToLower(msg), "phpsessid="); idx >= 0 {
		msg = msg[:idx] + "PHPSESSID=[redacted]"
	}
	return errors.New(msg)
}

// ExtractContext pulls a remote span context from inbound headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

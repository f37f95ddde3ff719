package correlation

import (
	"context"
	"net/http"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// HeaderName carries the correlation id on outbound upstream requests.
const HeaderName = "X-Correlation-Id"

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// InjectHeaders stamps the correlation id and the active trace id onto an outbound request.
func InjectHeaders(ctx context.Context, req *http.Request) {
	if req == nil {
		return
	}
	if cid := ExtractCorrelationID(ctx); cid != "" {
		req.Header.Set(HeaderName, cid)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		req.Header.Set("X-Trace-Id", sc.TraceID().String())
	}
}

package observability

import (
	"github.com/smallbiznis/billingops/internal/observability/logger"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the process logger, the OTel providers, the SIIMP/DAC
// call metrics and the HTTP and job instruments.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.JobsWithConfig,
	),
	// nothing else depends on the tracer provider
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

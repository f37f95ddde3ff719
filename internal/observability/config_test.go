package observability

import (
	"testing"

	"github.com/smallbiznis/billingops/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := LoadConfig(config.Config{Environment: "production", OTLPEndpoint: "collector:4317"})
	assert.Equal(t, "billingops", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.InDelta(t, 0.25, cfg.OtelSamplingRatio, 1e-9)
	assert.False(t, cfg.Debug())
	assert.False(t, cfg.Logger().IncludeStackOnError)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTEL_SAMPLING_RATIO", "1")

	cfg := LoadConfig(config.Config{AppName: "billingops-api", AppVersion: "1.2.0"})
	assert.True(t, cfg.Debug())
	assert.True(t, cfg.Tracing().Enabled)
	assert.InDelta(t, 1.0, cfg.Tracing().SamplingRatio, 1e-9)
	assert.Equal(t, "1.2.0", cfg.Tracing().ServiceVersion)
	assert.Equal(t, "billingops-api", cfg.Metrics().ServiceName)
	assert.True(t, cfg.Logger().IncludeStackOnError)
}

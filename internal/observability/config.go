package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/observability/logger"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/observability/tracing"
)

// Config holds observability settings. Service identity comes from the app
// config; log and OTLP knobs are read from the standard OTEL_* and LOG_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env("LOG_FORMAT", "json")),
		OtelEnabled:          false,
		OtelExporterEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelSamplingRatio:    0.25,
	}
	if out.ServiceName == "" {
		out.ServiceName = "billingops"
	}
	switch strings.ToLower(env("OTEL_ENABLED", "")) {
	case "1", "true", "yes", "on":
		out.OtelEnabled = true
	}
	if ratio, err := strconv.ParseFloat(env("OTEL_SAMPLING_RATIO", ""), 64); err == nil {
		out.OtelSamplingRatio = ratio
	}
	return out
}

// Debug is true for debug level or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// Logger keeps caller info always and stack traces only when debugging.
func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}

func env(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

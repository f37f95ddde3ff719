package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	upstreamRequests metric.Int64Counter
	upstreamLatency  metric.Float64Histogram
	fetchCalls       metric.Int64Counter
	enrichFailures   metric.Int64Counter
	batchRows        metric.Int64Counter
	invoicesWritten  metric.Int64Counter
	reconcileRows    metric.Int64Counter
	rateLimitWaits   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billingops"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.upstreamRequests, err = meter.Int64Counter("billingops_upstream_requests_total"); err != nil {
		return nil, err
	}
	if m.upstreamLatency, err = meter.Float64Histogram("billingops_upstream_request_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.fetchCalls, err = meter.Int64Counter("billingops_fetch_calls_total"); err != nil {
		return nil, err
	}
	if m.enrichFailures, err = meter.Int64Counter("billingops_enrichment_failures_total"); err != nil {
		return nil, err
	}
	if m.batchRows, err = meter.Int64Counter("billingops_batch_rows_total"); err != nil {
		return nil, err
	}
	if m.invoicesWritten, err = meter.Int64Counter("billingops_invoices_written_total"); err != nil {
		return nil, err
	}
	if m.reconcileRows, err = meter.Int64Counter("billingops_reconcile_rows_total"); err != nil {
		return nil, err
	}
	if m.rateLimitWaits, err = meter.Int64Counter("billingops_rate_limit_waits_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// Noop returns instruments bound to a no-op provider. Used by tests and CLIs.
func Noop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordUpstreamRequest counts one outbound call to SIIMP or DAC.
func (m *Metrics) RecordUpstreamRequest(ctx context.Context, provider, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("status_code", strconv.Itoa(status)),
	)
	m.upstreamRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.upstreamLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// AddFetchCalls records the number of search calls one fetch needed.
func (m *Metrics) AddFetchCalls(ctx context.Context, strategy string, calls int) {
	if m == nil || calls <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("strategy", strategy))
	m.fetchCalls.Add(ctx, int64(calls), metric.WithAttributes(attrs...))
}

// RecordEnrichmentFailure counts a legacy lookup that degraded to nulls.
func (m *Metrics) RecordEnrichmentFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.enrichFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBatchRow counts one processed batch row.
func (m *Metrics) RecordBatchRow(ctx context.Context, action string, ok bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome(ok)),
	)
	m.batchRows.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// AddInvoicesWritten counts rows upserted into the local cache.
func (m *Metrics) AddInvoicesWritten(ctx context.Context, source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", source))
	m.invoicesWritten.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordReconcileRow counts one pay-from-file row by outcome (paid, skipped, error, dry_run).
func (m *Metrics) RecordReconcileRow(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", result))
	m.reconcileRows.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitWait counts a throttled batch call.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	)
	m.rateLimitWaits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"endpoint":    {},
	"status_code": {},
	"strategy":    {},
	"reason":      {},
	"action":      {},
	"outcome":     {},
	"source":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

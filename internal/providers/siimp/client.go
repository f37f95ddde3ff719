package siimp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/observability/tracing"
	"github.com/smallbiznis/billingops/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	PathSearch = "/invoices/search"
	PathPay    = "/invoices/pay"
	PathCancel = "/invoices/cancel"
	PathSend   = "/invoices/send"

	providerName = "siimp"
	maxBodyBytes = 32 << 20
)

// Client talks to the SIIMP invoicing REST API.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
	log     *zap.Logger
	tracer  trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func New(cfg config.SiimpConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse SIIMP_BASE_URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
		log:     zap.NewNop(),
		tracer:  otel.Tracer("billingops/siimp"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type Params struct {
	fx.In

	Config  config.Config
	Metrics *metrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func Provide(p Params) (*Client, error) {
	return New(p.Config.Siimp,
		WithMetrics(p.Metrics),
		WithLogger(p.Log.Named("siimp.client")),
	)
}

// Search runs one /invoices/search query. SIIMP answers with a bare array, a
// {data:[...]} envelope or a single object; all are normalized to a slice.
func (c *Client) Search(ctx context.Context, params url.Values) ([]domain.Record, error) {
	payload, err := c.do(ctx, http.MethodGet, PathSearch, params, nil)
	if err != nil {
		return nil, err
	}
	return normalizeRows(payload), nil
}

// Pay marks an invoice paid. fields carries paid_at, value, wallet_id,
// payment_form and discount as accepted by SIIMP.
func (c *Client) Pay(ctx context.Context, id int64, fields map[string]any) (domain.Record, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["id"] = id
	return c.record(ctx, PathPay, body)
}

type CancelRequest struct {
	ID       int64
	Reason   string
	SendMail int
}

func (c *Client) Cancel(ctx context.Context, req CancelRequest) (domain.Record, error) {
	if req.ID <= 0 {
		return nil, ErrInvalidID
	}
	return c.record(ctx, PathCancel, map[string]any{
		"id":        req.ID,
		"reason":    req.Reason,
		"send_mail": req.SendMail,
	})
}

// Send issues the invoice. sendMail is omitted from the payload when nil.
func (c *Client) Send(ctx context.Context, id int64, sendMail *int) (domain.Record, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	body := map[string]any{"id": id}
	if sendMail != nil {
		body["send_mail"] = *sendMail
	}
	return c.record(ctx, PathSend, body)
}

func (c *Client) record(ctx context.Context, path string, body map[string]any) (domain.Record, error) {
	payload, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	if obj, ok := payload.(map[string]any); ok {
		return domain.Record(obj), nil
	}
	return domain.Record{"data": payload}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	ctx, span := c.tracer.Start(ctx, "siimp "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	status, payload, raw, err := c.roundTrip(ctx, method, path, query, body)
	c.metrics.RecordUpstreamRequest(ctx, providerName, path, status, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err == nil {
		err = checkPayload(status, payload, raw)
	}
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "siimp request failed")
		c.log.Warn("siimp request failed",
			zap.String("path", path),
			zap.Int("status", status),
			zap.Error(err),
		)
		return nil, err
	}
	return payload, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any) (int, any, string, error) {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, "", err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return 0, nil, "", err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	correlation.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, "", &HTTPError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, "", &HTTPError{Status: resp.StatusCode, Message: err.Error()}
	}
	return resp.StatusCode, decodeJSON(raw), string(raw), nil
}

func checkPayload(status int, payload any, raw string) error {
	obj, _ := payload.(map[string]any)
	message, _ := domain.AsString(obj["message"])
	message = strings.TrimSpace(message)

	if status != http.StatusOK {
		if message == "" {
			message = fmt.Sprintf("HTTP %d", status)
		}
		return &HTTPError{Status: status, Message: message, Body: raw}
	}
	if success, ok := obj["success"].(bool); ok && !success {
		if message == "" {
			message = "BusinessError"
		}
		return &BusinessError{Message: message, Body: raw}
	}
	return nil
}

// decodeJSON returns nil when the body is not JSON.
func decodeJSON(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func normalizeRows(payload any) []domain.Record {
	switch t := payload.(type) {
	case []any:
		return asRecords(t)
	case map[string]any:
		if data, ok := t["data"].([]any); ok {
			return asRecords(data)
		}
		return []domain.Record{domain.Record(t)}
	default:
		return nil
	}
}

func asRecords(items []any) []domain.Record {
	out := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, domain.Record(obj))
		}
	}
	return out
}

package dac

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
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
	PathLogin  = "/auth/login"
	PathDetail = "/invoice"
	PathPerson = "/person"
	PathCancel = "/transaction/cancel"

	providerName = "dac"
	maxBodyBytes = 8 << 20
)

var sessionCookiePattern = regexp.MustCompile(`(?i)PHPSESSID=([^;]+)`)

// Client is a session-authenticated client for the legacy DAC backend.
// The session is acquired lazily and reused for the life of the client.
type Client struct {
	baseURL  string
	username string
	password string
	cookie   string

	http    *http.Client
	metrics *metrics.Metrics
	log     *zap.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	session string
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

func New(cfg config.DACConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		cookie:   strings.TrimSpace(cfg.Cookie),
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:    zap.NewNop(),
		tracer: otel.Tracer("billingops/dac"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Params struct {
	fx.In

	Config  config.Config
	Metrics *metrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func Provide(p Params) *Client {
	return New(p.Config.DAC,
		WithMetrics(p.Metrics),
		WithLogger(p.Log.Named("dac.client")),
	)
}

// Session returns the PHPSESSID cookie, logging in on first use.
func (c *Client) Session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" {
		return c.session, nil
	}
	if c.cookie != "" {
		c.session = c.cookie
		return c.session, nil
	}
	if c.username == "" || c.password == "" {
		return "", ErrSessionUnavailable
	}

	session, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.session = session
	return session, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	loginURL := c.baseURL + PathLogin
	form := url.Values{"username": {c.username}, "password": {c.password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", loginURL)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest(ctx, providerName, PathLogin, 0, time.Since(start))
		return "", fmt.Errorf("dac login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	c.metrics.RecordUpstreamRequest(ctx, providerName, PathLogin, resp.StatusCode, time.Since(start))

	for _, header := range resp.Header.Values("Set-Cookie") {
		if m := sessionCookiePattern.FindStringSubmatch(header); m != nil {
			c.log.Info("dac session acquired")
			return "PHPSESSID=" + m[1], nil
		}
	}
	c.log.Warn("dac login returned no session cookie", zap.Int("status", resp.StatusCode))
	return "", ErrSessionUnavailable
}

// InvoiceDetail returns owner and document fields of one invoice as a record
// holding owner_id, owner_name, owner_document, cte_id, serie and number.
func (c *Client) InvoiceDetail(ctx context.Context, id int64) (domain.Record, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	query := url.Values{
		"id":       {strconv.FormatInt(id, 10)},
		"loadEdit": {"true"},
		"page":     {"1"},
		"start":    {"0"},
		"limit":    {"40"},
	}
	payload, _, _, err := c.do(ctx, http.MethodGet, PathDetail, query, nil)
	if err != nil {
		return nil, err
	}

	rows := dataRows(payload)
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	return detailFromRow(rows[0]), nil
}

func detailFromRow(row map[string]any) domain.Record {
	rec := domain.Record(row)
	owner := rec.Owner()

	out := domain.Record{
		"owner_id":       domain.First(rec.Value("owner_id"), owner.Value("id")),
		"owner_name":     nameOf(owner),
		"owner_document": documentOf(owner),
		"cte_id":         nil,
		"serie":          nil,
		"number":         nil,
	}
	if docs, ok := rec.Value("documents").([]any); ok && len(docs) > 0 {
		if doc, ok := docs[0].(map[string]any); ok {
			out["cte_id"] = doc["cte_id"]
			out["serie"] = doc["serie"]
			out["number"] = doc["number"]
		}
	}
	return out
}

// Person is the subset of a DAC person the merger needs.
type Person struct {
	ID       int64
	Name     any
	Document any
}

// People resolves owners in a single request filtered by id.
func (c *Client) People(ctx context.Context, ids []int64) (map[int64]Person, error) {
	out := make(map[int64]Person, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	filter, err := json.Marshal([]map[string]any{{
		"property": "id",
		"operator": "in",
		"value":    ids,
	}})
	if err != nil {
		return nil, err
	}
	query := url.Values{
		"filter": {string(filter)},
		"page":   {"1"},
		"start":  {"0"},
		"limit":  {strconv.Itoa(len(ids))},
	}
	payload, _, _, err := c.do(ctx, http.MethodGet, PathPerson, query, nil)
	if err != nil {
		return nil, err
	}

	for _, row := range dataRows(payload) {
		rec := domain.Record(row)
		id, ok := rec.ID()
		if !ok {
			continue
		}
		out[id] = Person{ID: id, Name: nameOf(rec), Document: documentOf(rec)}
	}
	return out, nil
}

// CancelResult is the DAC answer to a transaction cancel.
type CancelResult struct {
	Status int
	Data   any
	Raw    string
}

// CancelTransaction cancels the financial transaction behind an invoice.
// A 2xx answer without an explicit success=false counts as success.
func (c *Client) CancelTransaction(ctx context.Context, id int64) (*CancelResult, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	form := url.Values{"id": {strconv.FormatInt(id, 10)}}
	payload, raw, status, err := c.do(ctx, http.MethodPost, PathCancel, nil, form)
	if err != nil {
		return nil, err
	}
	var data any = raw
	if payload != nil {
		data = payload
	}
	return &CancelResult{Status: status, Data: data, Raw: raw}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values) (any, string, int, error) {
	ctx, span := c.tracer.Start(ctx, "dac "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	session, err := c.Session(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "dac session unavailable")
		return nil, "", 0, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("Cookie", session)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("Accept", "application/json, */*")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("Origin", c.baseURL)
	}
	correlation.InjectHeaders(ctx, req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest(ctx, providerName, path, 0, time.Since(start))
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "dac request failed")
		return nil, "", 0, fmt.Errorf("dac %s: %w", path, err)
	}
	defer resp.Body.Close()

	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.metrics.RecordUpstreamRequest(ctx, providerName, path, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("dac %s: read body: %w", path, err)
	}
	raw := string(rawBytes)

	// Content-Type from DAC is unreliable; the body is parsed only when it is valid JSON.
	payload := parseJSON(rawBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &HTTPError{Status: resp.StatusCode, Body: raw}
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("dac request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return payload, raw, resp.StatusCode, err
	}
	if obj, ok := payload.(map[string]any); ok {
		if success, present := obj["success"]; present && success != true {
			msg, _ := domain.AsString(obj["message"])
			err := &BusinessError{Message: strings.TrimSpace(msg), Body: raw}
			span.SetStatus(codes.Error, "dac business error")
			return payload, raw, resp.StatusCode, err
		}
	}
	return payload, raw, resp.StatusCode, nil
}

func parseJSON(raw []byte) any {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func dataRows(payload any) []map[string]any {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := obj["data"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if row, ok := item.(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}

var (
	nameKeys     = []string{"name", "nome", "razao_social"}
	documentKeys = []string{"document", "cpf_cnpj", "cnpj", "cpf"}
)

func nameOf(rec domain.Record) any {
	return rec.FirstKey(nameKeys...)
}

func documentOf(rec domain.Record) any {
	return rec.FirstKey(documentKeys...)
}

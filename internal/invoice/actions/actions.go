package actions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/providers/dac"
	"github.com/smallbiznis/billingops/internal/providers/siimp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Upstream is the SIIMP action surface.
type Upstream interface {
	Pay(ctx context.Context, id int64, fields map[string]any) (domain.Record, error)
	Send(ctx context.Context, id int64, sendMail *int) (domain.Record, error)
	Cancel(ctx context.Context, req siimp.CancelRequest) (domain.Record, error)
}

// Legacy is the DAC action surface.
type Legacy interface {
	CancelTransaction(ctx context.Context, id int64) (*dac.CancelResult, error)
}

type Params struct {
	fx.In

	Config   config.Config
	Upstream *siimp.Client
	Legacy   *dac.Client
	Log      *zap.Logger
}

// Service requests invoice state changes upstream. Local rows are never
// touched here; they follow on the next sync.
type Service struct {
	upstream      Upstream
	legacy        Legacy
	defaultReason string
	log           *zap.Logger
}

func Provide(p Params) *Service {
	return New(p.Upstream, p.Legacy, p.Config.DefaultCancelReason, p.Log.Named("invoice.actions"))
}

func New(upstream Upstream, legacy Legacy, defaultReason string, log *zap.Logger) *Service {
	if strings.TrimSpace(defaultReason) == "" {
		defaultReason = config.DefaultCancelReason
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{upstream: upstream, legacy: legacy, defaultReason: defaultReason, log: log}
}

func (s *Service) Pay(ctx context.Context, id int64, fields map[string]any) (domain.Record, error) {
	if id <= 0 {
		return nil, domain.ErrMissingID
	}
	return s.upstream.Pay(ctx, id, fields)
}

func (s *Service) Send(ctx context.Context, id int64, sendMail *int) (domain.Record, error) {
	if id <= 0 {
		return nil, domain.ErrMissingID
	}
	return s.upstream.Send(ctx, id, sendMail)
}

type CancelRequest struct {
	ID       int64
	Reason   string
	SendMail int
}

// SideResult is the outcome of one system in a dual cancel.
type SideResult struct {
	OK              bool   `json:"ok"`
	Status          int    `json:"status,omitempty"`
	Data            any    `json:"data,omitempty"`
	Error           string `json:"error,omitempty"`
	AlreadyCanceled bool   `json:"alreadyCanceled"`
}

type CancelResult struct {
	OK              bool       `json:"ok"`
	AlreadyCanceled bool       `json:"alreadyCanceled"`
	Siimp           SideResult `json:"siimp"`
	DAC             SideResult `json:"dac"`
}

// HTTPStatus is 200 for a logical success and 207 otherwise.
func (r CancelResult) HTTPStatus() int {
	if r.OK {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}

// Cancel cancels the invoice in SIIMP and its transaction in DAC
// concurrently. Both calls settle before the outcome is computed; either
// side reporting a previous cancellation makes the whole call succeed.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	if req.ID <= 0 {
		return CancelResult{}, domain.ErrMissingID
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = s.defaultReason
	}

	var (
		wg     sync.WaitGroup
		result CancelResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Siimp = s.cancelUpstream(ctx, siimp.CancelRequest{ID: req.ID, Reason: reason, SendMail: req.SendMail})
	}()
	go func() {
		defer wg.Done()
		result.DAC = s.cancelLegacy(ctx, req.ID)
	}()
	wg.Wait()

	result.AlreadyCanceled = result.Siimp.AlreadyCanceled || result.DAC.AlreadyCanceled
	result.OK = result.AlreadyCanceled || (result.Siimp.OK && result.DAC.OK)

	log := s.log.With(
		zap.Int64("invoice_id", req.ID),
		zap.Bool("siimp_ok", result.Siimp.OK),
		zap.Bool("dac_ok", result.DAC.OK),
		zap.Bool("already_canceled", result.AlreadyCanceled),
	)
	if result.OK {
		log.Info("invoice canceled")
	} else {
		log.Warn("invoice cancel incomplete")
	}
	return result, nil
}

func (s *Service) cancelUpstream(ctx context.Context, req siimp.CancelRequest) SideResult {
	out, err := s.upstream.Cancel(ctx, req)
	if err == nil {
		return SideResult{OK: true, Status: http.StatusOK, Data: out}
	}

	side := SideResult{Error: err.Error()}
	message, body, ok := siimp.Detail(err)
	if ok {
		side.Error = message
		side.AlreadyCanceled = IsAlreadyCanceled(message, body)
	}
	var httpErr *siimp.HTTPError
	if errors.As(err, &httpErr) {
		side.Status = httpErr.Status
	}
	return side
}

func (s *Service) cancelLegacy(ctx context.Context, id int64) SideResult {
	res, err := s.legacy.CancelTransaction(ctx, id)
	if err == nil {
		return SideResult{
			OK:              true,
			Status:          res.Status,
			Data:            res.Data,
			AlreadyCanceled: IsAlreadyCanceled(res.Raw),
		}
	}

	side := SideResult{Error: err.Error()}
	if body, ok := dac.Body(err); ok {
		side.AlreadyCanceled = IsAlreadyCanceled(body)
		side.Data = body
	}
	var httpErr *dac.HTTPError
	if errors.As(err, &httpErr) {
		side.Status = httpErr.Status
	}
	return side
}

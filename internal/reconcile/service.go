package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/actions"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/providers/siimp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReasonMissingFields = "missing CNPJ/NF"
	ReasonNotFound      = "not found"

	outcomePaid    = "paid"
	outcomeAlready = "already_paid"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
	outcomeDryRun  = "dry_run"
)

// Payer settles an invoice upstream.
type Payer interface {
	Pay(ctx context.Context, id int64, fields map[string]any) (domain.Record, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	Payer   *actions.Service
	Config  *config.ReconcileConfigHolder
	Metrics *metrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

// Service matches supplier payment files against cached invoices and pays
// the matches in SIIMP. The local cache is never written here.
type Service struct {
	db      *gorm.DB
	repo    domain.Repository
	payer   Payer
	config  *config.ReconcileConfigHolder
	metrics *metrics.Metrics
	log     *zap.Logger
}

func Provide(p Params) *Service {
	return New(p.DB, p.Repo, p.Payer, p.Config, p.Metrics, p.Log.Named("reconcile"))
}

func New(db *gorm.DB, repo domain.Repository, payer Payer, holder *config.ReconcileConfigHolder, m *metrics.Metrics, log *zap.Logger) *Service {
	if holder == nil {
		holder = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, repo: repo, payer: payer, config: holder, metrics: m, log: log}
}

// Config returns the column aliases and tolerance currently in effect.
func (s *Service) Config() config.ReconcileConfig {
	return s.config.Get()
}

type RowResult struct {
	OK            bool              `json:"ok"`
	Reason        string            `json:"reason,omitempty"`
	DryRun        bool              `json:"dryRun,omitempty"`
	ID            int64             `json:"id,omitempty"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	Total         *decimal.Decimal  `json:"total,omitempty"`
	Already       bool              `json:"already,omitempty"`
	Error         string            `json:"error,omitempty"`
	Row           map[string]string `json:"row,omitempty"`
}

type Response struct {
	OK      bool        `json:"ok"`
	DryRun  bool        `json:"dryRun"`
	Rows    int         `json:"rows"`
	Matched int         `json:"matched"`
	Paid    int         `json:"paid"`
	Skipped int         `json:"skipped"`
	Errors  int         `json:"errors"`
	Results []RowResult `json:"results"`
}

// Reconcile processes inputs in order. Upstream failures count as errors and
// leave the cached invoice untouched until the next sync.
func (s *Service) Reconcile(ctx context.Context, inputs []Input, dryRun bool) (Response, error) {
	if len(inputs) == 0 {
		return Response{}, ErrNoInput
	}
	tolerance := decimal.NewFromFloat(s.config.Get().Tolerance)

	resp := Response{DryRun: dryRun, Rows: len(inputs), Results: make([]RowResult, 0, len(inputs))}
	for _, in := range inputs {
		if in.CNPJ == "" || in.Number == "" {
			resp.Skipped++
			resp.Results = append(resp.Results, RowResult{Reason: ReasonMissingFields, Row: in.Raw})
			s.metrics.RecordReconcileRow(ctx, outcomeSkipped)
			continue
		}

		inv, err := s.match(ctx, in, tolerance)
		if err != nil {
			return Response{}, err
		}
		if inv == nil {
			resp.Skipped++
			resp.Results = append(resp.Results, RowResult{Reason: ReasonNotFound, Row: in.Raw})
			s.metrics.RecordReconcileRow(ctx, outcomeSkipped)
			continue
		}
		resp.Matched++

		total := inv.Total
		result := RowResult{ID: inv.ID, InvoiceNumber: inv.InvoiceNumber, Total: &total}
		if dryRun {
			result.OK = true
			result.DryRun = true
			resp.Results = append(resp.Results, result)
			s.metrics.RecordReconcileRow(ctx, outcomeDryRun)
			continue
		}

		_, err = s.payer.Pay(ctx, inv.ID, nil)
		switch {
		case err == nil:
			result.OK = true
			resp.Paid++
			s.metrics.RecordReconcileRow(ctx, outcomePaid)
		case isAlreadyPaid(err):
			result.OK = true
			result.Already = true
			resp.Paid++
			s.metrics.RecordReconcileRow(ctx, outcomeAlready)
		default:
			result.Error = errorMessage(err)
			resp.Errors++
			s.metrics.RecordReconcileRow(ctx, outcomeError)
			s.log.Warn("reconcile payment failed", zap.Int64("invoice_id", inv.ID), zap.Error(err))
		}
		resp.Results = append(resp.Results, result)
	}

	resp.OK = resp.Errors == 0
	s.log.Info("reconcile completed",
		zap.Bool("dry_run", dryRun),
		zap.Int("rows", resp.Rows),
		zap.Int("matched", resp.Matched),
		zap.Int("paid", resp.Paid),
		zap.Int("errors", resp.Errors),
	)
	return resp, nil
}

// match prefers the candidate whose total is within tolerance of the file
// amount and otherwise falls back to the newest candidate.
func (s *Service) match(ctx context.Context, in Input, tolerance decimal.Decimal) (*domain.Invoice, error) {
	candidates, err := s.repo.FindCandidates(ctx, s.db, in.CNPJ, in.Number)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if in.Amount != nil {
		for i := range candidates {
			if candidates[i].Total.Sub(*in.Amount).Abs().LessThanOrEqual(tolerance) {
				return &candidates[i], nil
			}
		}
	}
	return &candidates[0], nil
}

func isAlreadyPaid(err error) bool {
	msg, body, _ := siimp.Detail(err)
	return actions.IsAlreadyPaid(err.Error(), msg, body)
}

func errorMessage(err error) string {
	if msg, _, ok := siimp.Detail(err); ok && msg != "" {
		return msg
	}
	return err.Error()
}

package batch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/invoice/actions"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/providers/siimp"
	"github.com/smallbiznis/billingops/internal/ratelimit"
	"go.uber.org/zap"
)

// Actions is the invoice action surface a batch drives.
type Actions interface {
	Pay(ctx context.Context, id int64, fields map[string]any) (domain.Record, error)
	Send(ctx context.Context, id int64, sendMail *int) (domain.Record, error)
	Cancel(ctx context.Context, req actions.CancelRequest) (actions.CancelResult, error)
}

// Runner executes rows one at a time, paced by the limiter.
type Runner struct {
	actions Actions
	limiter ratelimit.Limiter
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewRunner(a Actions, limiter ratelimit.Limiter, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{actions: a, limiter: limiter, clock: clk, metrics: m, log: log}
}

// Execute processes rows sequentially and records every result on run.
// Invalid rows fail without an upstream call and without waiting.
func (r *Runner) Execute(ctx context.Context, run *Run, rows []Row) {
	defer func() { run.finish(r.clock.Now()) }()

	for _, row := range rows {
		res := Result{Line: row.Line, ID: row.ID, Action: row.Action}

		if err := ctx.Err(); err != nil {
			res.Message = err.Error()
			run.append(res)
			continue
		}
		if err := row.Validate(); err != nil {
			res.Message = err.Error()
			run.append(res)
			r.metrics.RecordBatchRow(ctx, string(row.Action), false)
			continue
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				res.Message = err.Error()
				run.append(res)
				continue
			}
		}

		r.apply(ctx, row, &res)
		run.append(res)
		r.metrics.RecordBatchRow(ctx, string(row.Action), res.OK)
	}

	snap := run.Snapshot()
	r.log.Info("batch run completed",
		zap.String("run_id", snap.ID),
		zap.Int("total", snap.Total),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
	)
}

func (r *Runner) apply(ctx context.Context, row Row, res *Result) {
	var err error
	switch row.Action {
	case ActionSend:
		_, err = r.actions.Send(ctx, row.ID, row.SendMail)
	case ActionPay:
		_, err = r.actions.Pay(ctx, row.ID, payFields(row))
	case ActionCancel:
		var out actions.CancelResult
		out, err = r.actions.Cancel(ctx, actions.CancelRequest{
			ID:       row.ID,
			Reason:   row.Reason,
			SendMail: intOr(row.SendMail, 0),
		})
		if err == nil {
			res.AlreadyCanceled = out.AlreadyCanceled
			if !out.OK {
				err = errors.New(cancelMessage(out))
			}
		}
	}

	if err != nil {
		res.Message = upstreamMessage(err)
		r.log.Warn("batch row failed",
			zap.Int64("invoice_id", row.ID),
			zap.String("action", string(row.Action)),
			zap.Error(err),
		)
		return
	}
	res.OK = true
	res.Message = "OK"
	if res.AlreadyCanceled {
		res.Message = "already canceled"
	}
}

// payFields sends amounts as JSON numbers without going through float64.
func payFields(row Row) map[string]any {
	discount := json.Number("0")
	if row.Discount != nil {
		discount = json.Number(row.Discount.String())
	}
	fields := map[string]any{
		"paid_at":  row.PaidAt,
		"discount": discount,
	}
	if row.Value != nil {
		fields["value"] = json.Number(row.Value.String())
	}
	if row.WalletID != nil {
		fields["wallet_id"] = *row.WalletID
	}
	if row.PaymentForm != nil {
		fields["payment_form"] = *row.PaymentForm
	}
	return fields
}

func cancelMessage(out actions.CancelResult) string {
	var parts []string
	if !out.Siimp.OK {
		parts = append(parts, "siimp: "+out.Siimp.Error)
	}
	if !out.DAC.OK {
		parts = append(parts, "dac: "+out.DAC.Error)
	}
	return strings.Join(parts, "; ")
}

func upstreamMessage(err error) string {
	if msg, _, ok := siimp.Detail(err); ok && msg != "" {
		return msg
	}
	return err.Error()
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/pkg/db/pagination"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertChunkSize = 200

// sortKey orders numeric invoice numbers first; legacy non-numeric numbers sort last.
const sortKey = "COALESCE(invoice_number_int, 9223372036854775807)"

// columns rewritten on conflict, in table order.
var upsertColumns = []string{
	"owner_id", "owner_name", "owner_cnpj", "invoice_number", "invoice_number_int",
	"invoice_status", "total", "maturity", "payment_form", "created_at", "invoice_obs",
	"cte_id", "serie", "number", "raw", "synced_at",
}

// enrichmentColumns keep their stored value in coalesce mode when the incoming value is null.
var enrichmentColumns = map[string]struct{}{
	"owner_id":    {},
	"owner_name":  {},
	"owner_cnpj":  {},
	"invoice_obs": {},
	"cte_id":      {},
	"serie":       {},
	"number":      {},
}

type Params struct {
	fx.In

	Clock  clock.Clock
	Config config.Config
}

type repo struct {
	clock clock.Clock
	mode  string
}

func Provide(p Params) domain.Repository {
	return New(p.Clock, p.Config.UpsertMode)
}

func New(clk clock.Clock, mode string) domain.Repository {
	if clk == nil {
		clk = clock.New()
	}
	if mode != config.UpsertModeCoalesce {
		mode = config.UpsertModeOverwrite
	}
	return &repo{clock: clk, mode: mode}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rows []domain.Invoice) (int, error) {
	batch := dedupeLastWins(rows)
	if len(batch) == 0 {
		return 0, nil
	}

	now := r.clock.Now()
	for i := range batch {
		batch[i].SyncedAt = now
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(batch); start += upsertChunkSize {
			chunk := batch[start:min(start+upsertChunkSize, len(batch))]
			if err := tx.Clauses(r.onConflict(tx.Dialector.Name())).Create(&chunk).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert invoices: %w", err)
	}
	return len(batch), nil
}

// onConflict builds the upsert clause. MySQL has no excluded pseudo-table, so
// incoming values are read through VALUES(col) there.
func (r *repo) onConflict(dialect string) clause.OnConflict {
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}}
	if r.mode != config.UpsertModeCoalesce {
		conflict.DoUpdates = clause.AssignmentColumns(upsertColumns)
		return conflict
	}

	assignments := make([]clause.Assignment, 0, len(upsertColumns))
	for _, col := range upsertColumns {
		incoming := incomingValue(dialect, col)
		value := any(clause.Expr{SQL: incoming})
		if _, ok := enrichmentColumns[col]; ok {
			value = clause.Expr{SQL: fmt.Sprintf("COALESCE(%s, invoices.%s)", incoming, col)}
		}
		assignments = append(assignments, clause.Assignment{Column: clause.Column{Name: col}, Value: value})
	}
	conflict.DoUpdates = clause.Set(assignments)
	return conflict
}

func incomingValue(dialect, col string) string {
	if dialect == "mysql" {
		return "VALUES(" + col + ")"
	}
	return "excluded." + col
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, limit int, after *pagination.Cursor) ([]domain.Invoice, error) {
	if limit <= 0 || limit > domain.MaxListLimit+1 {
		limit = domain.MaxListLimit
	}

	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.Status != nil {
		stmt = stmt.Where("invoice_status = ?", int(*filter.Status))
	}
	if filter.NumberFrom != nil {
		stmt = stmt.Where("invoice_number_int >= ?", *filter.NumberFrom)
	}
	if filter.NumberTo != nil {
		stmt = stmt.Where("invoice_number_int <= ?", *filter.NumberTo)
	}
	if cnpj := domain.DigitsOnly(filter.OwnerCNPJ); cnpj != "" {
		stmt = stmt.Where("owner_cnpj = ?", cnpj)
	}
	if after != nil {
		stmt = stmt.Where(
			"(("+sortKey+" > ?) OR ("+sortKey+" = ? AND id > ?))",
			after.SortKey, after.SortKey, after.ID,
		)
	}

	var rows []domain.Invoice
	if err := stmt.Order(sortKey + " ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) FindCandidates(ctx context.Context, db *gorm.DB, ownerCNPJ, invoiceNumber string) ([]domain.Invoice, error) {
	cnpj := domain.DigitsOnly(ownerCNPJ)
	number := strings.TrimSpace(invoiceNumber)
	if cnpj == "" || number == "" {
		return nil, nil
	}

	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).Where("owner_cnpj = ?", cnpj)
	if n, ok := domain.NumericInvoiceNumber(number); ok {
		stmt = stmt.Where("(invoice_number = ? OR invoice_number_int = ?)", number, n)
	} else {
		stmt = stmt.Where("invoice_number = ?", number)
	}

	var rows []domain.Invoice
	if err := stmt.Order("id DESC").Limit(5).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Invoice, error) {
	var row domain.Invoice
	err := db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SortCursor is the pagination cursor of row.
func SortCursor(row domain.Invoice) pagination.Cursor {
	key := int64(9223372036854775807)
	if row.InvoiceNumberInt != nil {
		key = *row.InvoiceNumberInt
	}
	return pagination.Cursor{SortKey: key, ID: row.ID}
}

func dedupeLastWins(rows []domain.Invoice) []domain.Invoice {
	index := make(map[int64]int, len(rows))
	out := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		if pos, ok := index[row.ID]; ok {
			out[pos] = row
			continue
		}
		index[row.ID] = len(out)
		out = append(out, row)
	}
	return out
}

package domain

import (
	"context"

	"github.com/smallbiznis/billingops/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert writes rows in one transaction keyed by id and returns the number written.
	Upsert(ctx context.Context, db *gorm.DB, rows []Invoice) (int, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, limit int, after *pagination.Cursor) ([]Invoice, error)
	// FindCandidates returns invoices of an owner tax id whose number matches as text or as integer.
	FindCandidates(ctx context.Context, db *gorm.DB, ownerCNPJ, invoiceNumber string) ([]Invoice, error)
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Invoice, error)
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Invoice{}))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func invoice(id int64, number string) domain.Invoice {
	inv := domain.Invoice{
		ID:            id,
		InvoiceNumber: number,
		InvoiceStatus: domain.StatusRegistered,
		Total:         decimal.RequireFromString("100.50"),
	}
	if n, ok := domain.NumericInvoiceNumber(number); ok {
		inv.InvoiceNumberInt = &n
	}
	return inv
}

func TestUpsertOverwritesAndAdvancesSyncedAt(t *testing.T) {
	conn := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	r := New(clk, config.UpsertModeOverwrite)
	ctx := context.Background()

	first := invoice(10, "100")
	first.OwnerName = strPtr("ACME LTDA")
	first.OwnerCNPJ = strPtr("12345678000190")
	n, err := r.Upsert(ctx, conn, []domain.Invoice{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := r.FindByID(ctx, conn, 10)
	require.NoError(t, err)
	require.NotNil(t, stored)
	firstSync := stored.SyncedAt

	clk.Advance(time.Second)
	second := invoice(10, "100")
	second.InvoiceStatus = domain.StatusPaid
	second.Total = decimal.RequireFromString("99.90")
	n, err = r.Upsert(ctx, conn, []domain.Invoice{second})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var count int64
	require.NoError(t, conn.Model(&domain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err = r.FindByID(ctx, conn, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.InvoiceStatus)
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("99.90")))
	assert.True(t, stored.SyncedAt.After(firstSync), "synced_at must increase")
	// overwrite mode blanks enrichment fields the newer sync left null
	assert.Nil(t, stored.OwnerName)
	assert.Nil(t, stored.OwnerCNPJ)
}

func TestUpsertCoalesceKeepsEnrichment(t *testing.T) {
	conn := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	r := New(clk, config.UpsertModeCoalesce)
	ctx := context.Background()

	first := invoice(11, "101")
	first.OwnerName = strPtr("ACME LTDA")
	first.CteID = i64Ptr(555)
	_, err := r.Upsert(ctx, conn, []domain.Invoice{first})
	require.NoError(t, err)

	clk.Advance(time.Second)
	second := invoice(11, "101")
	second.InvoiceStatus = domain.StatusCanceled
	_, err = r.Upsert(ctx, conn, []domain.Invoice{second})
	require.NoError(t, err)

	stored, err := r.FindByID(ctx, conn, 11)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, stored.InvoiceStatus)
	require.NotNil(t, stored.OwnerName)
	assert.Equal(t, "ACME LTDA", *stored.OwnerName)
	require.NotNil(t, stored.CteID)
	assert.Equal(t, int64(555), *stored.CteID)
}

func TestUpsertCoalesceOnMySQLUsesValues(t *testing.T) {
	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/billingops?parseTime=True",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true})
	require.NoError(t, err)

	r := New(clock.New(), config.UpsertModeCoalesce).(*repo)
	rows := []domain.Invoice{invoice(10, "100")}
	stmt := conn.Clauses(r.onConflict(conn.Dialector.Name())).Create(&rows).Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, sql, "COALESCE(VALUES(owner_name), invoices.owner_name)")
	assert.Contains(t, sql, "VALUES(synced_at)")
	assert.NotContains(t, sql, "excluded.")
}

func TestUpsertDuplicateIDsLastWins(t *testing.T) {
	conn := setupTestDB(t)
	r := New(clock.NewFakeClock(time.Now()), config.UpsertModeOverwrite)

	a := invoice(12, "1")
	b := invoice(12, "1")
	b.InvoiceStatus = domain.StatusIssued
	n, err := r.Upsert(context.Background(), conn, []domain.Invoice{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := r.FindByID(context.Background(), conn, 12)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, stored.InvoiceStatus)
}

func TestUpsertRollsBackWholeBatch(t *testing.T) {
	conn := setupTestDB(t)
	require.NoError(t, conn.Exec(`CREATE TRIGGER reject_999 BEFORE INSERT ON invoices
		WHEN NEW.id = 999 BEGIN SELECT RAISE(ABORT, 'rejected'); END`).Error)
	r := New(clock.NewFakeClock(time.Now()), config.UpsertModeOverwrite)

	rows := make([]domain.Invoice, 0, 300)
	for i := int64(1); i <= 300; i++ {
		id := i
		if i == 250 {
			id = 999
		}
		rows = append(rows, invoice(id, fmt.Sprint(i)))
	}

	n, err := r.Upsert(context.Background(), conn, rows)
	require.Error(t, err)
	assert.Equal(t, 0, n)

	var count int64
	require.NoError(t, conn.Model(&domain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "first chunk must be rolled back")
}

func TestListFiltersAndOrdersNumerically(t *testing.T) {
	conn := setupTestDB(t)
	r := New(clock.NewFakeClock(time.Now()), config.UpsertModeOverwrite)
	ctx := context.Background()

	paid := invoice(4, "9")
	paid.InvoiceStatus = domain.StatusPaid
	_, err := r.Upsert(ctx, conn, []domain.Invoice{
		invoice(1, "100"),
		invoice(2, "20"),
		invoice(3, "A-7"),
		paid,
	})
	require.NoError(t, err)

	rows, err := r.List(ctx, conn, domain.ListFilter{}, 100, nil)
	require.NoError(t, err)
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []int64{4, 2, 1, 3}, ids)

	status := domain.StatusRegistered
	from, to := int64(10), int64(100)
	rows, err = r.List(ctx, conn, domain.ListFilter{Status: &status, NumberFrom: &from, NumberTo: &to}, 100, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, int64(1), rows[1].ID)
}

func TestListCursor(t *testing.T) {
	conn := setupTestDB(t)
	r := New(clock.NewFakeClock(time.Now()), config.UpsertModeOverwrite)
	ctx := context.Background()

	_, err := r.Upsert(ctx, conn, []domain.Invoice{invoice(1, "1"), invoice(2, "2"), invoice(3, "X")})
	require.NoError(t, err)

	rows, err := r.List(ctx, conn, domain.ListFilter{}, 3, nil)
	require.NoError(t, err)
	page, info, err := pagination.BuildCursorPageInfo(rows, 2, SortCursor)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := pagination.DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	rows, err = r.List(ctx, conn, domain.ListFilter{}, 3, cursor)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID)
}

func TestFindCandidatesMatchesTextOrNumber(t *testing.T) {
	conn := setupTestDB(t)
	r := New(clock.NewFakeClock(time.Now()), config.UpsertModeOverwrite)
	ctx := context.Background()

	a := invoice(21, "0042")
	a.OwnerCNPJ = strPtr("12345678000190")
	b := invoice(22, "43")
	b.OwnerCNPJ = strPtr("12345678000190")
	_, err := r.Upsert(ctx, conn, []domain.Invoice{a, b})
	require.NoError(t, err)

	rows, err := r.FindCandidates(ctx, conn, "12.345.678/0001-90", "42")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(21), rows[0].ID)

	rows, err = r.FindCandidates(ctx, conn, "", "42")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/invoice/repository"
	"github.com/smallbiznis/billingops/internal/providers/siimp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePayer struct {
	calls []int64
	errs  map[int64]error
}

func (f *fakePayer) Pay(_ context.Context, id int64, _ map[string]any) (domain.Record, error) {
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return domain.Record{"success": true}, nil
}

func setup(t *testing.T) (*gorm.DB, domain.Repository) {
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

	repo := repository.New(clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), config.UpsertModeOverwrite)
	cnpj := "12345678000190"
	rows := []domain.Invoice{
		seed(1, "500", cnpj, "100.00"),
		seed(2, "500", cnpj, "250.00"),
		seed(3, "777", cnpj, "80.00"),
	}
	_, err = repo.Upsert(context.Background(), conn, rows)
	require.NoError(t, err)
	return conn, repo
}

func seed(id int64, number, cnpj, total string) domain.Invoice {
	inv := domain.Invoice{
		ID:            id,
		InvoiceNumber: number,
		OwnerCNPJ:     &cnpj,
		InvoiceStatus: domain.StatusRegistered,
		Total:         decimal.RequireFromString(total),
	}
	if n, ok := domain.NumericInvoiceNumber(number); ok {
		inv.InvoiceNumberInt = &n
	}
	return inv
}

func TestParseMoney(t *testing.T) {
	cases := map[string]string{
		"R$ 1.234,56": "1234.56",
		"123,45":      "123.45",
		"1234.56":     "1234.56",
		"R$ 80":       "80",
		"1.234.567,8": "1234567.8",
	}
	for raw, want := range cases {
		got, ok := ParseMoney(raw)
		require.True(t, ok, raw)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%s => %s", raw, got)
	}

	_, ok := ParseMoney("   ")
	assert.False(t, ok)
	_, ok = ParseMoney("abc")
	assert.False(t, ok)
}

func TestParseFileCSVUsesAliases(t *testing.T) {
	csv := "CNPJ Fornecedor;NF;Valor Líquido\n12.345.678/0001-90;500;R$ 250,00\n"
	inputs, err := ParseFile(strings.NewReader(csv), "csv", config.DefaultReconcileConfig())
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "12345678000190", inputs[0].CNPJ)
	assert.Equal(t, "500", inputs[0].Number)
	require.NotNil(t, inputs[0].Amount)
	assert.True(t, decimal.NewFromInt(250).Equal(*inputs[0].Amount))
}

func TestReconcilePicksCandidateWithinTolerance(t *testing.T) {
	conn, repo := setup(t)
	payer := &fakePayer{}
	svc := New(conn, repo, payer, nil, nil, nil)

	inputs := ParseRows([]map[string]any{
		{"CNPJ Fornecedor": "12.345.678/0001-90", "NF": "500", "Valor Líquido": "250,02"},
	}, svc.Config())

	resp, err := svc.Reconcile(context.Background(), inputs, false)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 1, resp.Matched)
	assert.Equal(t, 1, resp.Paid)
	assert.Equal(t, []int64{2}, payer.calls)
	assert.Equal(t, int64(2), resp.Results[0].ID)
}

func TestReconcileFallsBackToNewestCandidate(t *testing.T) {
	conn, repo := setup(t)
	payer := &fakePayer{}
	svc := New(conn, repo, payer, nil, nil, nil)

	inputs := ParseRows([]map[string]any{
		{"cnpj": "12345678000190", "nf": 500, "valor": "999,00"},
	}, svc.Config())

	resp, err := svc.Reconcile(context.Background(), inputs, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, payer.calls)
	assert.Equal(t, 1, resp.Paid)
}

func TestReconcileDryRunDoesNotPay(t *testing.T) {
	conn, repo := setup(t)
	payer := &fakePayer{}
	svc := New(conn, repo, payer, nil, nil, nil)

	inputs := ParseRows([]map[string]any{
		{"cnpj": "12345678000190", "nf": "777", "valor": "80"},
	}, svc.Config())

	resp, err := svc.Reconcile(context.Background(), inputs, true)
	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.Empty(t, payer.calls)
	assert.Equal(t, 1, resp.Matched)
	assert.Equal(t, 0, resp.Paid)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].OK)
	assert.True(t, resp.Results[0].DryRun)
	assert.Equal(t, "777", resp.Results[0].InvoiceNumber)
}

func TestReconcileSkipsMissingAndUnknownRows(t *testing.T) {
	conn, repo := setup(t)
	payer := &fakePayer{}
	svc := New(conn, repo, payer, nil, nil, nil)

	inputs := ParseRows([]map[string]any{
		{"cnpj": "", "nf": "500"},
		{"cnpj": "99999999000199", "nf": "500"},
	}, svc.Config())

	resp, err := svc.Reconcile(context.Background(), inputs, false)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 2, resp.Skipped)
	assert.Equal(t, ReasonMissingFields, resp.Results[0].Reason)
	assert.Equal(t, ReasonNotFound, resp.Results[1].Reason)
	assert.Empty(t, payer.calls)
}

func TestReconcileAlreadyPaidCountsAsPaid(t *testing.T) {
	conn, repo := setup(t)
	payer := &fakePayer{errs: map[int64]error{
		3: &siimp.BusinessError{Message: "Fatura já liquidada"},
	}}
	svc := New(conn, repo, payer, nil, nil, nil)

	inputs := ParseRows([]map[string]any{{"cnpj": "12345678000190", "nf": "777"}}, svc.Config())
	resp, err := svc.Reconcile(context.Background(), inputs, false)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 1, resp.Paid)
	assert.True(t, resp.Results[0].Already)
}

func TestReconcileUpstreamFailureLeavesCacheUntouched(t *testing.T) {
	conn, repo := setup(t)
	payer := &fakePayer{errs: map[int64]error{
		3: &siimp.HTTPError{Status: 502, Message: "bad gateway"},
	}}
	svc := New(conn, repo, payer, nil, nil, nil)

	inputs := ParseRows([]map[string]any{{"cnpj": "12345678000190", "nf": "777"}}, svc.Config())
	resp, err := svc.Reconcile(context.Background(), inputs, false)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, 1, resp.Errors)
	assert.Equal(t, 0, resp.Paid)
	assert.Equal(t, "bad gateway", resp.Results[0].Error)

	inv, err := repo.FindByID(context.Background(), conn, 3)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, domain.StatusRegistered, inv.InvoiceStatus)
}

func TestReconcileRejectsEmptyInput(t *testing.T) {
	conn, repo := setup(t)
	svc := New(conn, repo, &fakePayer{}, nil, nil, nil)
	_, err := svc.Reconcile(context.Background(), nil, false)
	assert.True(t, errors.Is(err, ErrNoInput))
}

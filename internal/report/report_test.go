package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingops/internal/batch"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBatchPDF(t *testing.T) {
	finished := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	snap := batch.Snapshot{
		ID:         "1790000000000",
		Status:     batch.StatusCompleted,
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Total:      2,
		Processed:  2,
		Succeeded:  1,
		Failed:     1,
		Results: []batch.Result{
			{Line: 2, ID: 10, Action: batch.ActionPay, OK: true, Message: "OK"},
			{Line: 3, ID: 11, Action: batch.ActionCancel, OK: false, Message: "fatura não encontrada"},
		},
	}

	doc, err := BatchPDF(snap)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestInvoicesXLSX(t *testing.T) {
	name := "ACME LTDA"
	cnpj := "12345678000190"
	maturity := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	rows := []domain.Invoice{
		{
			ID:            10,
			InvoiceNumber: "500",
			InvoiceStatus: domain.StatusPaid,
			OwnerName:     &name,
			OwnerCNPJ:     &cnpj,
			Total:         decimal.RequireFromString("1234.56"),
			Maturity:      &maturity,
			SyncedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{ID: 11, InvoiceNumber: "A-7", InvoiceStatus: domain.StatusCanceled, Total: decimal.Zero},
	}

	var buf bytes.Buffer
	require.NoError(t, InvoicesXLSX(&buf, rows))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(invoicesSheet)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Número", got[0][1])
	assert.Equal(t, []string{"10", "500", "Liquidada", "ACME LTDA", "12345678000190", "1234.56", "10/04/2026"}, got[1][:7])
	assert.Equal(t, "Cancelada", got[2][2])
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "faturas-2026-03-01.xlsx", ExportFilename("Faturas", now, "xlsx"))
	assert.Equal(t, "lote-123-2026-03-01.pdf", ExportFilename("Lote 123", now, ".pdf"))
}

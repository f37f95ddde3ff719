package report

import (
	"io"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/xuri/excelize/v2"
)

const invoicesSheet = "Faturas"

var invoiceHeaders = []any{
	"ID", "Número", "Status", "Cliente", "CNPJ", "Total",
	"Vencimento", "Criada em", "CT-e", "Série", "Número CT-e", "Sincronizada em",
}

// InvoicesXLSX writes the cached invoices as a single-sheet workbook.
func InvoicesXLSX(w io.Writer, rows []domain.Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoicesSheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(invoicesSheet)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", invoiceHeaders); err != nil {
		return err
	}
	for i, inv := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, invoiceRow(inv)); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func invoiceRow(inv domain.Invoice) []any {
	total, _ := inv.Total.Float64()
	return []any{
		inv.ID,
		inv.InvoiceNumber,
		inv.InvoiceStatus.Label(),
		deref(inv.OwnerName),
		deref(inv.OwnerCNPJ),
		total,
		formatDate(inv.Maturity, "02/01/2006"),
		formatDate(inv.CreatedAt, "02/01/2006 15:04"),
		derefInt(inv.CteID),
		deref(inv.Serie),
		derefInt(inv.Number),
		inv.SyncedAt.Format(time.RFC3339),
	}
}

// ExportFilename builds an ASCII download name such as "faturas-2026-03-01.xlsx".
func ExportFilename(prefix string, now time.Time, ext string) string {
	name := slug.Make(strings.TrimSpace(prefix) + " " + now.Format("2006-01-02"))
	return name + "." + strings.TrimPrefix(ext, ".")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) any {
	if v == nil {
		return ""
	}
	return *v
}

func formatDate(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

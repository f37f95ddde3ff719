package reconcile

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/sheet"
)

var ErrNoInput = errors.New("no_input_rows")

// Input is one payment line from the supplier file.
type Input struct {
	CNPJ   string
	Number string
	Amount *decimal.Decimal
	Raw    map[string]string
}

// ParseFile reads a CSV or XLSX payment file.
func ParseFile(r io.Reader, format string, cfg config.ReconcileConfig) ([]Input, error) {
	table, err := sheet.Read(r, format, sheet.CompactKey)
	if err != nil {
		return nil, err
	}
	out := make([]Input, 0, len(table.Rows))
	for _, row := range table.Rows {
		out = append(out, inputFromRow(row, cfg))
	}
	return out, nil
}

// ParseRows maps already-decoded JSON objects.
func ParseRows(rows []map[string]any, cfg config.ReconcileConfig) []Input {
	out := make([]Input, 0, len(rows))
	for _, obj := range rows {
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			if s, ok := domain.AsString(v); ok {
				row[sheet.CompactKey(k)] = strings.TrimSpace(s)
			}
		}
		out = append(out, inputFromRow(row, cfg))
	}
	return out
}

func inputFromRow(row map[string]string, cfg config.ReconcileConfig) Input {
	in := Input{
		CNPJ:   domain.DigitsOnly(firstColumn(row, cfg.CNPJColumns)),
		Number: strings.TrimSpace(firstColumn(row, cfg.NumberColumns)),
		Raw:    row,
	}
	if amount, ok := ParseMoney(firstColumn(row, cfg.AmountColumns)); ok {
		in.Amount = &amount
	}
	return in
}

func firstColumn(row map[string]string, aliases []string) string {
	for _, alias := range aliases {
		if v := strings.TrimSpace(row[alias]); v != "" {
			return v
		}
	}
	return ""
}

var (
	moneyNoise     = regexp.MustCompile(`[R$\s]`)
	thousandsGroup = regexp.MustCompile(`\.\d{3}`)
	decimalDot     = regexp.MustCompile(`\.\d`)
)

// ParseMoney reads BR ("R$ 1.234,56", "123,45") and plain ("1234.56") amounts.
func ParseMoney(raw string) (decimal.Decimal, bool) {
	t := moneyNoise.ReplaceAllString(strings.TrimSpace(raw), "")
	if t == "" {
		return decimal.Zero, false
	}
	hasComma := strings.Contains(t, ",")
	switch {
	case hasComma && thousandsGroup.MatchString(t):
		t = strings.Replace(strings.ReplaceAll(t, ".", ""), ",", ".", 1)
	case hasComma && !decimalDot.MatchString(t):
		t = strings.Replace(t, ",", ".", 1)
	}
	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ToInvoice maps an enriched record onto the cache row. The record itself is
// stored in Raw. syncedAt is stamped by the caller.
func ToInvoice(rec Record, syncedAt time.Time) (Invoice, error) {
	id, ok := rec.ID()
	if !ok {
		return Invoice{}, ErrMissingID
	}

	inv := Invoice{
		ID:       id,
		SyncedAt: syncedAt,
	}

	inv.OwnerID = int64Ptr(firstPresent(rec.Value("owner_id"), rec.Owner().Value("id")))
	inv.OwnerName = stringPtr(firstPresent(rec.Value("owner_name"), rec.Owner().Value("name")))
	if doc, ok := AsString(firstPresent(rec.Value("owner_document"), rec.Value("owner_cnpj"), rec.Owner().Value("document"))); ok {
		if digits := DigitsOnly(doc); digits != "" {
			inv.OwnerCNPJ = &digits
		}
	}

	if number, ok := AsString(rec.Value("invoice_number")); ok {
		inv.InvoiceNumber = strings.TrimSpace(number)
	}
	if n, ok := NumericInvoiceNumber(inv.InvoiceNumber); ok {
		inv.InvoiceNumberInt = &n
	}
	if status, ok := AsInt64(rec.Value("invoice_status")); ok {
		inv.InvoiceStatus = Status(status)
	}
	if total, ok := AsDecimal(rec.Value("total")); ok {
		inv.Total = total
	}
	inv.Maturity = timePtr(rec.Value("maturity"))
	if form, ok := AsInt64(rec.Value("payment_form")); ok {
		v := int(form)
		inv.PaymentForm = &v
	}
	inv.CreatedAt = timePtr(rec.Value("created_at"))
	inv.InvoiceObs = stringPtr(rec.Value("invoice_obs"))
	inv.CteID = int64Ptr(rec.Value("cte_id"))
	inv.Serie = stringPtr(rec.Value("serie"))
	inv.Number = int64Ptr(rec.Value("number"))

	raw, err := json.Marshal(rec)
	if err != nil {
		return Invoice{}, fmt.Errorf("encode raw invoice %d: %w", id, err)
	}
	inv.Raw = raw

	return inv, nil
}

func firstPresent(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func int64Ptr(v any) *int64 {
	n, ok := AsInt64(v)
	if !ok {
		return nil
	}
	return &n
}

func stringPtr(v any) *string {
	s, ok := AsString(v)
	if !ok {
		return nil
	}
	return &s
}

func timePtr(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

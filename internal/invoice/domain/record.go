package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is one invoice object as returned by SIIMP, possibly merged with
// enrichment keys. Numbers are kept as json.Number when decoded by this module.
type Record map[string]any

// EnrichmentKeys are present on every record leaving the enrichment merger.
var EnrichmentKeys = []string{"owner_id", "owner_name", "owner_document", "cte_id", "serie", "number"}

// ID returns the upstream invoice id, accepting the aliases SIIMP has used.
func (r Record) ID() (int64, bool) {
	for _, key := range []string{"id", "invoice_id", "ID"} {
		if id, ok := AsInt64(r[key]); ok && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// Value returns the value under key, treating JSON null as absent.
func (r Record) Value(key string) any {
	if r == nil {
		return nil
	}
	return r[key]
}

// Has reports a present value under key. Blank strings count as missing.
func (r Record) Has(key string) bool {
	return Present(r.Value(key))
}

// FirstKey returns the first present value among keys, or nil.
func (r Record) FirstKey(keys ...string) any {
	for _, key := range keys {
		if v := r.Value(key); Present(v) {
			return v
		}
	}
	return nil
}

// Present reports whether v carries data: not null and not a blank string.
func Present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// First returns the first present value, or nil.
func First(values ...any) any {
	for _, v := range values {
		if Present(v) {
			return v
		}
	}
	return nil
}

// Owner returns the nested owner object, if any.
func (r Record) Owner() Record {
	switch v := r.Value("owner").(type) {
	case map[string]any:
		return Record(v)
	case Record:
		return v
	default:
		return nil
	}
}

// Clone returns a shallow copy so enrichment never mutates caller input.
func (r Record) Clone() Record {
	out := make(Record, len(r)+len(EnrichmentKeys))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func AsString(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func AsDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

// DigitsOnly strips punctuation from tax ids ("12.345.678/0001-90").
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NumericInvoiceNumber returns the integer value of an invoice number when the
// whole (trimmed) string is a base-10 integer. Legacy formats return false.
func NumericInvoiceNumber(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

package batch

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingops/internal/sheet"
)

type Action string

const (
	ActionSend   Action = "send"
	ActionPay    Action = "pay"
	ActionCancel Action = "cancel"
)

var (
	ErrNoRows       = errors.New("no_rows")
	ErrNoActionRows = errors.New("no_rows_with_action")
)

// ParseAction accepts the portuguese spreadsheet aliases.
func ParseAction(raw string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "send", "emitir":
		return ActionSend, true
	case "pay", "liquidar":
		return ActionPay, true
	case "cancel", "cancelar":
		return ActionCancel, true
	default:
		return "", false
	}
}

// Row is one spreadsheet line. Numeric cells that do not parse stay nil and
// are reported by validation.
type Row struct {
	Line        int              `json:"line"`
	ID          int64            `json:"id" validate:"required,gt=0"`
	Action      Action           `json:"action,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	SendMail    *int             `json:"send_mail,omitempty"`
	PaidAt      string           `json:"paid_at,omitempty" validate:"required_if=Action pay,omitempty,datetime=2006-01-02"`
	Value       *decimal.Decimal `json:"value,omitempty" validate:"required_if=Action pay"`
	WalletID    *int64           `json:"wallet_id,omitempty" validate:"required_if=Action pay"`
	PaymentForm *int             `json:"payment_form,omitempty" validate:"required_if=Action pay"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
}

// ValidationError lists the fields a row is missing for its action.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid row: " + strings.Join(e.Fields, ", ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return jsonName(f.Tag.Get("json"))
	})
}

// Validate checks the fields required by the row action.
func (r Row) Validate() error {
	if r.Action == "" {
		return &ValidationError{Fields: []string{"action"}}
	}
	if _, ok := ParseAction(string(r.Action)); !ok {
		return &ValidationError{Fields: []string{"action"}}
	}
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields}
}

// RowsFromTable maps sheet rows onto batch rows. Cells that fail to parse
// are left empty so validation reports them per row.
func RowsFromTable(table sheet.Table, forced Action) ([]Row, error) {
	if len(table.Rows) == 0 {
		return nil, ErrNoRows
	}

	rows := make([]Row, 0, len(table.Rows))
	for i, cells := range table.Rows {
		row := Row{
			Line:        i + 2,
			Reason:      cells["reason"],
			SendMail:    intCell(cells["send_mail"]),
			PaidAt:      cells["paid_at"],
			Value:       decimalCell(cells["value"]),
			PaymentForm: intCell(cells["payment_form"]),
			Discount:    decimalCell(cells["discount"]),
		}
		if id, err := strconv.ParseInt(strings.TrimSpace(cells["id"]), 10, 64); err == nil {
			row.ID = id
		}
		if wallet := intCell(cells["wallet_id"]); wallet != nil {
			w := int64(*wallet)
			row.WalletID = &w
		}

		switch {
		case forced != "":
			row.Action = forced
		case cells["action"] != "":
			if action, ok := ParseAction(cells["action"]); ok {
				row.Action = action
			} else {
				row.Action = Action(strings.ToLower(strings.TrimSpace(cells["action"])))
			}
		default:
			// without a forced action only rows naming one are processed
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoActionRows
	}
	return rows, nil
}

func intCell(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(normalizeNumber(raw))
	if err != nil || !d.Equal(d.Truncate(0)) {
		return nil
	}
	v := int(d.IntPart())
	return &v
}

func decimalCell(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(normalizeNumber(raw))
	if err != nil {
		return nil
	}
	return &d
}

// normalizeNumber accepts "1234.56" and "1234,56".
func normalizeNumber(raw string) string {
	if strings.Contains(raw, ",") && !strings.Contains(raw, ".") {
		return strings.ReplaceAll(raw, ",", ".")
	}
	return raw
}

func jsonName(tag string) string {
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return ""
	}
	return name
}

package server

import (
	"strconv"
	"strings"

	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
)

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (*int, error) {
	parsed, err := parseOptionalInt64(value)
	if err != nil || parsed == nil {
		return nil, err
	}
	v := int(*parsed)
	return &v, nil
}

func parseOptionalStatus(value string) (*invoicedomain.Status, error) {
	parsed, err := parseOptionalInt64(value)
	if err != nil {
		return nil, invoicedomain.ErrInvalidStatus
	}
	if parsed == nil {
		return nil, nil
	}
	status := invoicedomain.Status(*parsed)
	if !status.Valid() {
		return nil, invoicedomain.ErrInvalidStatus
	}
	return &status, nil
}

// parseFlag accepts the "1"/"true"/"yes" spellings the portal sends.
func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// parseNumberRange reads number_from/number_to and rejects inverted ranges.
func parseNumberRange(from, to string) (*int64, *int64, error) {
	numberFrom, err := parseOptionalInt64(from)
	if err != nil {
		return nil, nil, newValidationError("number_from", "invalid_number_from", "number_from must be an integer")
	}
	numberTo, err := parseOptionalInt64(to)
	if err != nil {
		return nil, nil, newValidationError("number_to", "invalid_number_to", "number_to must be an integer")
	}
	if numberFrom != nil && numberTo != nil && *numberFrom > *numberTo {
		return nil, nil, invoicedomain.ErrInvalidRange
	}
	return numberFrom, numberTo, nil
}

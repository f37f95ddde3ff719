package domain

import "errors"

var (
	ErrMissingID        = errors.New("missing_invoice_id")
	ErrInvalidID        = errors.New("invalid_invoice_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidRange     = errors.New("invalid_number_range")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrNoIDs            = errors.New("no_ids")
)

package dac

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSessionUnavailable = errors.New("dac_session_unavailable")
	ErrNoData             = errors.New("dac_no_data")
	ErrInvalidID          = errors.New("invalid_invoice_id")
)

// HTTPError is a non-2xx answer from the legacy backend.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("dac: HTTP %d", e.Status)
}

func (e *HTTPError) UpstreamStatus() int { return e.Status }

// BusinessError is a 2xx answer carrying success=false.
type BusinessError struct {
	Message string
	Body    string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return "dac: request rejected"
	}
	return "dac: " + e.Message
}

func (e *BusinessError) UpstreamStatus() int { return http.StatusOK }

// Body returns the raw response text carried by a DAC error.
func Body(err error) (string, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Body, true
	}
	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		return bizErr.Body, true
	}
	return "", false
}

package siimp

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConfigured = errors.New("siimp_not_configured")
	ErrInvalidID     = errors.New("invalid_invoice_id")
)

// HTTPError is a non-200 response or a transport failure (Status 0).
type HTTPError struct {
	Status  int
	Message string
	Body    string
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return "siimp: " + e.Message
	}
	return fmt.Sprintf("siimp: HTTP %d: %s", e.Status, e.Message)
}

func (e *HTTPError) UpstreamStatus() int { return e.Status }

// BusinessError is a 200 response whose payload carries success=false.
type BusinessError struct {
	Message string
	Body    string
}

func (e *BusinessError) Error() string {
	return "siimp: " + e.Message
}

func (e *BusinessError) UpstreamStatus() int { return http.StatusOK }

// Detail returns the upstream message and raw body of a SIIMP error, for
// phrase matching and for surfacing to operators.
func Detail(err error) (message, body string, ok bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message, httpErr.Body, true
	}
	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		return bizErr.Message, bizErr.Body, true
	}
	return "", "", false
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingops/internal/authorization"
	"github.com/smallbiznis/billingops/internal/batch"
	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/providers/dac"
	"github.com/smallbiznis/billingops/internal/providers/siimp"
	"github.com/smallbiznis/billingops/internal/reconcile"
	"github.com/smallbiznis/billingops/internal/sheet"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	if len(v.Errors) > 0 && v.Errors[0].Message != "" {
		return v.Errors[0].Message
	}
	return "validation error"
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// statusError sets the status reported when the wrapped error is not
// otherwise classified. Upstream failures on /search answer 400, on /list 500.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }

func (e *statusError) Unwrap() error { return e.err }

func withStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &statusError{status: status, err: err}
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorResponse{
			Error:  vErr.Error(),
			Errors: vErr.Errors,
		}
	}

	if isValidationError(err) {
		var rowErr *batch.ValidationError
		if errors.As(err, &rowErr) {
			return http.StatusBadRequest, errorResponse{Error: rowErr.Error()}
		}
		code := errorCode(err)
		return http.StatusBadRequest, errorResponse{
			Error: code,
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    code,
					Message: validationErrorMessage(err),
				},
			},
		}
	}

	switch {
	case errors.Is(err, authorization.ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized"}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden"}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, batch.ErrRunNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	}

	var sErr *statusError
	if errors.As(err, &sErr) {
		return sErr.status, errorResponse{Error: errorMessage(err)}
	}
	return http.StatusInternalServerError, errorResponse{Error: errorMessage(err)}
}

// errorMessage prefers the upstream's own message so operators see what
// SIIMP or DAC said.
func errorMessage(err error) string {
	if msg, _, ok := siimp.Detail(err); ok && msg != "" {
		return msg
	}
	var dacErr *dac.BusinessError
	if errors.As(err, &dacErr) && dacErr.Message != "" {
		return dacErr.Message
	}
	return err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	var rowErr *batch.ValidationError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, invoicedomain.ErrMissingID),
		errors.Is(err, invoicedomain.ErrInvalidID),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrInvalidRange),
		errors.Is(err, invoicedomain.ErrInvalidPageToken),
		errors.Is(err, invoicedomain.ErrNoIDs),
		errors.Is(err, siimp.ErrInvalidID),
		errors.Is(err, dac.ErrInvalidID),
		errors.Is(err, batch.ErrNoRows),
		errors.Is(err, batch.ErrNoActionRows),
		errors.Is(err, sheet.ErrEmpty),
		errors.Is(err, sheet.ErrUnsupportedFormat),
		errors.Is(err, reconcile.ErrNoInput),
		errors.As(err, &rowErr):
		return true
	default:
		return false
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, invoicedomain.ErrMissingID):
		return invoicedomain.ErrMissingID.Error()
	default:
		return err.Error()
	}
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrMissingID),
		errors.Is(err, invoicedomain.ErrInvalidID),
		errors.Is(err, siimp.ErrInvalidID),
		errors.Is(err, dac.ErrInvalidID):
		return "id"
	case errors.Is(err, invoicedomain.ErrNoIDs):
		return "ids"
	case errors.Is(err, invoicedomain.ErrInvalidStatus):
		return "status"
	case errors.Is(err, invoicedomain.ErrInvalidRange):
		return "number_from"
	case errors.Is(err, invoicedomain.ErrInvalidPageToken):
		return "page_token"
	case errors.Is(err, batch.ErrNoRows),
		errors.Is(err, batch.ErrNoActionRows),
		errors.Is(err, reconcile.ErrNoInput):
		return "rows"
	case errors.Is(err, sheet.ErrEmpty),
		errors.Is(err, sheet.ErrUnsupportedFormat):
		return "file"
	default:
		return "request"
	}
}

func validationErrorMessage(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrMissingID):
		return "id is required"
	case errors.Is(err, invoicedomain.ErrNoIDs):
		return "send id or ids"
	case errors.Is(err, batch.ErrNoActionRows):
		return "no row names an action; send one in the action field"
	case errors.Is(err, sheet.ErrUnsupportedFormat):
		return "upload a .csv or .xlsx file"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request log with a coarse error type and code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		return "validation_error", vErr.Errors[0].Code
	}
	if isValidationError(err) {
		return "validation_error", errorCode(err)
	}

	var siimpHTTP *siimp.HTTPError
	var siimpBiz *siimp.BusinessError
	var dacHTTP *dac.HTTPError
	var dacBiz *dac.BusinessError
	switch {
	case errors.Is(err, authorization.ErrUnauthorized):
		return "unauthorized", "unauthorized"
	case errors.Is(err, authorization.ErrForbidden):
		return "forbidden", "forbidden"
	case errors.Is(err, ErrNotFound), errors.Is(err, batch.ErrRunNotFound):
		return "not_found", "not_found"
	case errors.As(err, &siimpHTTP):
		return "upstream_error", "siimp_http"
	case errors.As(err, &siimpBiz):
		return "upstream_error", "siimp_rejected"
	case errors.As(err, &dacHTTP):
		return "upstream_error", "dac_http"
	case errors.As(err, &dacBiz):
		return "upstream_error", "dac_rejected"
	case errors.Is(err, dac.ErrSessionUnavailable):
		return "upstream_error", dac.ErrSessionUnavailable.Error()
	default:
		return "internal_error", "internal_error"
	}
}

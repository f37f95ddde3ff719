package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingops/internal/invoice/actions"
	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
)

// PayInvoice forwards {id, ...fields} to SIIMP; fields other than id pass
// through untouched.
func (s *Server) PayInvoice(c *gin.Context) {
	body, err := bindObject(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, err := invoiceID(body["id"])
	if err != nil {
		AbortWithError(c, err)
		return
	}
	delete(body, "id")

	data, err := s.actions.Pay(c.Request.Context(), id, body)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func (s *Server) SendInvoice(c *gin.Context) {
	body, err := bindObject(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, err := invoiceID(body["id"])
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sendMail, err := optionalInt(body["send_mail"], "send_mail")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data, err := s.actions.Send(c.Request.Context(), id, sendMail)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

// CancelInvoice answers 200 when the invoice ends up canceled in both
// systems (or already was) and 207 when one side failed.
func (s *Server) CancelInvoice(c *gin.Context) {
	body, err := bindObject(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, err := invoiceID(body["id"])
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sendMail, err := optionalInt(body["send_mail"], "send_mail")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := actions.CancelRequest{ID: id}
	if reason, ok := invoicedomain.AsString(body["reason"]); ok {
		req.Reason = strings.TrimSpace(reason)
	}
	if sendMail != nil {
		req.SendMail = *sendMail
	}

	out, err := s.actions.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}
	c.JSON(out.HTTPStatus(), out)
}

func bindObject(c *gin.Context) (map[string]any, error) {
	body := map[string]any{}
	if c.Request.ContentLength == 0 {
		return body, nil
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, invalidRequestError()
	}
	return body, nil
}

func invoiceID(raw any) (int64, error) {
	if raw == nil {
		return 0, invoicedomain.ErrMissingID
	}
	if str, ok := raw.(string); ok && strings.TrimSpace(str) == "" {
		return 0, invoicedomain.ErrMissingID
	}
	id, ok := invoicedomain.AsInt64(raw)
	if !ok || id <= 0 {
		return 0, invoicedomain.ErrInvalidID
	}
	return id, nil
}

// optionalInt accepts numbers, numeric strings and booleans (true is 1).
func optionalInt(raw any, field string) (*int, error) {
	if raw == nil {
		return nil, nil
	}
	if flag, ok := raw.(bool); ok {
		n := 0
		if flag {
			n = 1
		}
		return &n, nil
	}
	v, ok := invoicedomain.AsInt64(raw)
	if !ok {
		return nil, newValidationError(field, "invalid_"+field, field+" must be an integer")
	}
	n := int(v)
	return &n, nil
}

package server

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Parameters consumed by the handler instead of being forwarded to SIIMP.
var searchReservedParams = []string{"status", "number_from", "number_to", "max_pages"}

// SearchInvoices accepts the filter as a query string, a JSON body (POST) or both.
func (s *Server) SearchInvoices(c *gin.Context) {
	params, err := searchParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req, err := searchRequest(params)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.Search(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"data":          resp.Data,
		"wrote":         resp.Wrote,
		"fetched_total": resp.FetchedTotal,
		"strategy":      resp.Strategy,
		"calls":         resp.Calls,
	})
}

// searchParams merges the query string with an optional JSON body; body
// keys win.
func searchParams(c *gin.Context) (map[string]string, error) {
	params := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if c.Request.Method == http.MethodGet || c.Request.ContentLength == 0 {
		return params, nil
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, invalidRequestError()
	}
	for key, value := range body {
		if str, ok := invoicedomain.AsString(value); ok {
			params[key] = str
		}
	}
	return params, nil
}

func searchRequest(params map[string]string) (invoicedomain.SearchRequest, error) {
	status, err := parseOptionalStatus(params["status"])
	if err != nil {
		return invoicedomain.SearchRequest{}, err
	}
	numberFrom, numberTo, err := parseNumberRange(params["number_from"], params["number_to"])
	if err != nil {
		return invoicedomain.SearchRequest{}, err
	}
	maxPages, err := parseOptionalInt(params["max_pages"])
	if err != nil {
		return invoicedomain.SearchRequest{}, newValidationError("max_pages", "invalid_max_pages", "max_pages must be an integer")
	}

	forwarded := make(map[string]string, len(params))
	for key, value := range params {
		forwarded[key] = value
	}
	for _, key := range searchReservedParams {
		delete(forwarded, key)
	}

	req := invoicedomain.SearchRequest{
		Status:     status,
		NumberFrom: numberFrom,
		NumberTo:   numberTo,
		Params:     forwarded,
	}
	if maxPages != nil {
		req.MaxPages = *maxPages
	}
	return req, nil
}

func (s *Server) ListInvoices(c *gin.Context) {
	req, err := listRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusInternalServerError, err))
		return
	}

	body := gin.H{
		"ok":       true,
		"data":     resp.Data,
		"has_more": resp.HasMore,
	}
	if resp.NextPageToken != "" {
		body["next_page_token"] = resp.NextPageToken
	}
	c.JSON(http.StatusOK, body)
}

// ExportInvoices downloads the filtered local cache as a spreadsheet.
func (s *Server) ExportInvoices(c *gin.Context) {
	req, err := listRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.PageToken = ""
	req.PageSize = invoicedomain.MaxListLimit

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusInternalServerError, err))
		return
	}

	var buf bytes.Buffer
	if err := report.InvoicesXLSX(&buf, resp.Data); err != nil {
		AbortWithError(c, withStatus(http.StatusInternalServerError, err))
		return
	}

	filename := report.ExportFilename("faturas", s.clock.Now(), "xlsx")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func listRequest(c *gin.Context) (invoicedomain.ListRequest, error) {
	status, err := parseOptionalStatus(c.Query("status"))
	if err != nil {
		return invoicedomain.ListRequest{}, err
	}
	numberFrom, numberTo, err := parseNumberRange(c.Query("number_from"), c.Query("number_to"))
	if err != nil {
		return invoicedomain.ListRequest{}, err
	}
	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		return invoicedomain.ListRequest{}, newValidationError("page_size", "invalid_page_size", "page_size must be an integer")
	}

	req := invoicedomain.ListRequest{
		Status:     status,
		NumberFrom: numberFrom,
		NumberTo:   numberTo,
		OwnerCNPJ:  invoicedomain.DigitsOnly(c.Query("owner_cnpj")),
		PageToken:  strings.TrimSpace(c.Query("page_token")),
	}
	if pageSize != nil {
		req.PageSize = *pageSize
	}
	return req, nil
}

type enrichRequest struct {
	ID  any   `json:"id"`
	IDs []any `json:"ids"`
}

// EnrichInvoices resolves legacy fields for {id} or {ids:[...]} without
// touching the cache.
func (s *Server) EnrichInvoices(c *gin.Context) {
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var ids []int64
	if len(req.IDs) > 0 {
		for _, raw := range req.IDs {
			id, ok := invoicedomain.AsInt64(raw)
			if !ok {
				AbortWithError(c, invoicedomain.ErrInvalidID)
				return
			}
			ids = append(ids, id)
		}
	} else if req.ID != nil {
		id, ok := invoicedomain.AsInt64(req.ID)
		if !ok {
			AbortWithError(c, invoicedomain.ErrInvalidID)
			return
		}
		ids = []int64{id}
	}

	resp, err := s.invoiceSvc.Enrich(c.Request.Context(), ids)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"data":   resp.Data,
		"errors": resp.Errors,
	})
}

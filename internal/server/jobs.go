package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
)

// SyncInvoices runs one paged sync in the request. The scheduler runs the
// same sync on an interval.
func (s *Server) SyncInvoices(c *gin.Context) {
	status, err := parseOptionalStatus(c.Query("status"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	maxPages, err := parseOptionalInt(c.Query("max_pages"))
	if err != nil {
		AbortWithError(c, newValidationError("max_pages", "invalid_max_pages", "max_pages must be an integer"))
		return
	}

	req := invoicedomain.SyncRequest{Status: status}
	if maxPages != nil {
		req.MaxPages = *maxPages
	}

	resp, err := s.invoiceSvc.Sync(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusInternalServerError, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"fetched_pages": resp.FetchedPages,
		"fetched_total": resp.FetchedTotal,
		"wrote":         resp.Wrote,
		"sample_ids":    resp.SampleIDs,
	})
}

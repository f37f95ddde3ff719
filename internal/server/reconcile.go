package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingops/internal/reconcile"
	"github.com/smallbiznis/billingops/internal/sheet"
)

const maxUploadBytes = 20 << 20

// PayFromFileHowTo documents the upload for operators opening the URL in a browser.
func (s *Server) PayFromFileHowTo(c *gin.Context) {
	cfg := s.reconciler.Config()
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"method": http.MethodPost,
		"accepts": []string{
			"multipart/form-data with a file field (.csv or .xlsx)",
			`application/json {"rows":[{...}]}`,
		},
		"columns": gin.H{
			"cnpj":  cfg.CNPJColumns,
			"nf":    cfg.NumberColumns,
			"valor": cfg.AmountColumns,
		},
		"tolerance": cfg.Tolerance,
		"dryRun":    "add ?dryRun=1 to preview matches without paying",
	})
}

type reconcileJSONRequest struct {
	Rows   []map[string]any `json:"rows"`
	DryRun any              `json:"dryRun"`
}

// PayFromFile matches a supplier payment sheet against cached invoices and
// settles the matches in SIIMP.
func (s *Server) PayFromFile(c *gin.Context) {
	dryRun := parseFlag(c.Query("dryRun")) || parseFlag(c.Query("dryrun"))

	var inputs []reconcile.Input
	if isMultipart(c) {
		parsed, flag, err := s.reconcileUpload(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		inputs = parsed
		dryRun = dryRun || flag
	} else {
		var req reconcileJSONRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		inputs = reconcile.ParseRows(req.Rows, s.reconciler.Config())
		if flag, ok := req.DryRun.(bool); ok {
			dryRun = dryRun || flag
		} else if str, ok := req.DryRun.(string); ok {
			dryRun = dryRun || parseFlag(str)
		}
	}

	resp, err := s.reconciler.Reconcile(c.Request.Context(), inputs, dryRun)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reconcileUpload(c *gin.Context) ([]reconcile.Input, bool, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		return nil, false, newValidationError("file", "required", "file is required")
	}
	f, err := header.Open()
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	format := sheet.FormatOf(header.Filename, header.Header.Get("Content-Type"))
	inputs, err := reconcile.ParseFile(f, format, s.reconciler.Config())
	if err != nil {
		return nil, false, err
	}
	return inputs, parseFlag(c.PostForm("dryRun")), nil
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

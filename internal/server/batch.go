package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingops/internal/batch"
	invoicedomain "github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/report"
	"github.com/smallbiznis/billingops/internal/sheet"
)

type batchJSONRequest struct {
	Action string           `json:"action"`
	Rows   []map[string]any `json:"rows"`
}

// StartBatch accepts a spreadsheet upload or JSON rows and starts a run.
// The run continues after the response unless ?wait=1 is set.
func (s *Server) StartBatch(c *gin.Context) {
	var (
		table  sheet.Table
		action string
	)
	if isMultipart(c) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		header, err := c.FormFile("file")
		if err != nil {
			AbortWithError(c, newValidationError("file", "required", "file is required"))
			return
		}
		f, err := header.Open()
		if err != nil {
			AbortWithError(c, err)
			return
		}
		defer f.Close()

		table, err = sheet.Read(f, sheet.FormatOf(header.Filename, header.Header.Get("Content-Type")), sheet.SnakeKey)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		action = c.PostForm("action")
	} else {
		var req batchJSONRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		table = tableFromJSON(req.Rows)
		action = req.Action
	}
	if action == "" {
		action = c.Query("action")
	}

	var forced batch.Action
	if strings.TrimSpace(action) != "" {
		parsed, ok := batch.ParseAction(action)
		if !ok {
			AbortWithError(c, newValidationError("action", "invalid_action", "action must be send, pay or cancel"))
			return
		}
		forced = parsed
	}

	rows, err := batch.RowsFromTable(table, forced)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	run, err := s.batches.Start(c.Request.Context(), rows)
	if err != nil {
		AbortWithError(c, withStatus(http.StatusBadRequest, err))
		return
	}

	if !parseFlag(c.Query("wait")) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "data": run.Snapshot()})
		return
	}

	select {
	case <-run.Done():
	case <-c.Request.Context().Done():
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": run.Snapshot()})
}

func (s *Server) GetBatch(c *gin.Context) {
	run, err := s.batches.Get(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": run.Snapshot()})
}

// GetBatchReport renders the run as a PDF, whether or not it has finished.
func (s *Server) GetBatchReport(c *gin.Context) {
	run, err := s.batches.Get(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snap := run.Snapshot()
	pdf, err := report.BatchPDF(snap)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := report.ExportFilename("lote "+snap.ID, s.clock.Now(), "pdf")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// tableFromJSON normalizes JSON row keys the same way spreadsheet headers are.
func tableFromJSON(rows []map[string]any) sheet.Table {
	table := sheet.Table{Rows: make([]map[string]string, 0, len(rows))}
	seen := map[string]struct{}{}
	for _, row := range rows {
		cells := make(map[string]string, len(row))
		for key, value := range row {
			str, ok := invoicedomain.AsString(value)
			if !ok {
				continue
			}
			normalized := sheet.SnakeKey(key)
			cells[normalized] = str
			if _, ok := seen[normalized]; !ok {
				seen[normalized] = struct{}{}
				table.Headers = append(table.Headers, normalized)
			}
		}
		table.Rows = append(table.Rows, cells)
	}
	return table
}

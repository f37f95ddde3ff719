// Package sheet reads operator spreadsheets (CSV or XLSX) into header-keyed rows.
package sheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/xuri/excelize/v2"
)

var (
	ErrEmpty             = errors.New("empty_sheet")
	ErrUnsupportedFormat = errors.New("unsupported_file_format")
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Table is a parsed sheet. Row maps are keyed by normalized header.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// KeyFunc normalizes a raw header cell.
type KeyFunc func(string) string

// SnakeKey turns "Paid At" or "paid-at" into "paid_at".
func SnakeKey(header string) string {
	return strings.ReplaceAll(slug.Make(strings.TrimSpace(header)), "-", "_")
}

// CompactKey strips accents and every separator: "Valor Líquido" -> "valorliquido".
func CompactKey(header string) string {
	s := slug.Make(strings.TrimSpace(header))
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

// FormatOf picks the parser from a filename or content type. Legacy BIFF
// workbooks (.xls) have no parser and yield "".
func FormatOf(filename, contentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt":
		return FormatCSV
	case ".xls":
		return ""
	}
	contentType = strings.ToLower(contentType)
	if strings.Contains(contentType, "spreadsheetml") || strings.Contains(contentType, "ms-excel.sheet.macroenabled") {
		return FormatXLSX
	}
	if strings.Contains(contentType, "csv") || strings.HasPrefix(contentType, "text/") {
		return FormatCSV
	}
	return ""
}

// Read parses r according to format.
func Read(r io.Reader, format string, key KeyFunc) (Table, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(r, key)
	case FormatXLSX:
		return ReadXLSX(r, key)
	default:
		return Table{}, ErrUnsupportedFormat
	}
}

// ReadCSV parses comma or semicolon separated input; the delimiter is taken
// from the header line.
func ReadCSV(r io.Reader, key KeyFunc) (Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Table{}, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	return build(records, key)
}

// ReadXLSX parses the first sheet of a workbook.
func ReadXLSX(r io.Reader, key KeyFunc) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrEmpty
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read xlsx rows: %w", err)
	}
	return build(records, key)
}

func build(records [][]string, key KeyFunc) (Table, error) {
	if key == nil {
		key = SnakeKey
	}

	var header []string
	start := 0
	for i, rec := range records {
		if !blank(rec) {
			header = rec
			start = i + 1
			break
		}
	}
	if header == nil {
		return Table{}, ErrEmpty
	}

	table := Table{Headers: make([]string, len(header))}
	for i, h := range header {
		table.Headers[i] = key(h)
	}

	for _, rec := range records[start:] {
		if blank(rec) {
			continue
		}
		row := make(map[string]string, len(table.Headers))
		for i, h := range table.Headers {
			if h == "" || i >= len(rec) {
				continue
			}
			if _, dup := row[h]; dup {
				continue
			}
			row[h] = strings.TrimSpace(rec[i])
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func blank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func detectDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

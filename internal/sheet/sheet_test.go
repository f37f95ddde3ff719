package sheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "paid_at", SnakeKey(" Paid At "))
	assert.Equal(t, "wallet_id", SnakeKey("wallet_id"))
	assert.Equal(t, "valorliquido", CompactKey("Valor Líquido"))
	assert.Equal(t, "cnpjfornecedor", CompactKey("CNPJ_Fornecedor"))
	assert.Equal(t, "numeronf", CompactKey("Número NF"))
}

func TestReadCSVDetectsSemicolon(t *testing.T) {
	input := "\xef\xbb\xbfID;Action;Paid At\n1;pay;2024-01-02\n\n2;cancelar;\n"
	table, err := ReadCSV(strings.NewReader(input), SnakeKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "action", "paid_at"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "2024-01-02", table.Rows[0]["paid_at"])
	assert.Equal(t, "cancelar", table.Rows[1]["action"])
}

func TestReadCSVComma(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("id,value\n1,\"1.234,56\"\n"), SnakeKey)
	require.NoError(t, err)
	assert.Equal(t, "1.234,56", table.Rows[0]["value"])
}

func TestReadXLSXFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"ID", "Send Mail"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{42, 1}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	table, err := Read(&buf, FormatOf("lote.xlsx", ""), SnakeKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "send_mail"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "42", table.Rows[0]["id"])
}

func TestReadEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("\n\n"), nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatOf("a.CSV", ""))
	assert.Equal(t, FormatXLSX, FormatOf("", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	assert.Equal(t, "", FormatOf("a.pdf", "application/pdf"))
	assert.Equal(t, FormatXLSX, FormatOf("macro.xlsm", ""))
}

func TestLegacyXLSIsUnsupported(t *testing.T) {
	assert.Equal(t, "", FormatOf("lote.xls", "application/vnd.ms-excel"))
	assert.Equal(t, "", FormatOf("upload", "application/vnd.ms-excel"))

	_, err := Read(strings.NewReader("\xd0\xcf\x11\xe0"), FormatOf("lote.xls", ""), SnakeKey)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

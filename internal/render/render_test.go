package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krsp-query/internal/resultset"
	"krsp-query/internal/sqltype"
)

func littersTable() *resultset.Table {
	return &resultset.Table{
		Columns: []resultset.Column{
			{Name: "grid", Category: sqltype.String},
			{Name: "id", Category: sqltype.Int},
			{Name: "weight", Category: sqltype.Float},
		},
		Rows: [][]any{
			{"KL", int64(3), 12.5},
			{"SU", int64(1), nil},
		},
		Limit: 100000,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "JSON", want: FormatJSON},
		{in: " csv ", want: FormatCSV},
		{in: "md", want: FormatMarkdown},
		{in: "markdown", want: FormatMarkdown},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "table, json, csv, markdown")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWrite_JSONKeepsColumnOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, littersTable(), FormatJSON))
	assert.Equal(t, "[\n"+
		`  {"grid": "KL", "id": 3, "weight": 12.5},`+"\n"+
		`  {"grid": "SU", "id": 1, "weight": null}`+"\n"+
		"]\n", buf.String())
}

func TestWrite_JSONLeavesMarkupUnescaped(t *testing.T) {
	table := &resultset.Table{
		Columns: []resultset.Column{{Name: "usage", Category: sqltype.String}},
		Rows:    [][]any{{"year=<int> & grid"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, table, FormatJSON))
	assert.Equal(t, "[\n"+`  {"usage": "year=<int> & grid"}`+"\n]\n", buf.String())
}

func TestWrite_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &resultset.Table{Columns: littersTable().Columns, Rows: [][]any{}}, FormatJSON))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWrite_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, littersTable(), FormatTable))
	out := buf.String()
	assert.Contains(t, out, "grid")
	assert.Contains(t, out, "12.5")
	assert.Contains(t, out, "NULL")
	assert.True(t, strings.HasSuffix(out, "(2 rows)\n"))
}

func TestWrite_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &resultset.Table{Columns: littersTable().Columns}, FormatTable))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestWrite_CSVLeavesNullEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, littersTable(), FormatCSV))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "KL")
	assert.NotContains(t, buf.String(), "NULL")
}

func TestWrite_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, littersTable(), FormatMarkdown))
	out := buf.String()
	assert.Contains(t, out, "| grid")
	assert.Contains(t, out, "KL")
}

func TestRowCount(t *testing.T) {
	assert.Equal(t, "(0 rows)", RowCount(0))
	assert.Equal(t, "(1 row)", RowCount(1))
	assert.Equal(t, "(42 rows)", RowCount(42))
}

func TestTruncationNotice(t *testing.T) {
	tbl := littersTable()
	assert.Empty(t, TruncationNotice(tbl))

	tbl.Truncated = true
	tbl.Limit = 2
	assert.Equal(t, "result truncated at 2 rows; raise --limit or pass --unbounded for every row", TruncationNotice(tbl))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: "NULL"},
		{name: "int", in: int64(-7), want: "-7"},
		{name: "float", in: 251.5, want: "251.5"},
		{name: "bool", in: true, want: "true"},
		{name: "bytes", in: []byte{0xca, 0xfe}, want: "0xcafe"},
		{name: "date", in: time.Date(2015, 4, 11, 0, 0, 0, 0, time.UTC), want: "2015-04-11"},
		{name: "datetime", in: time.Date(2015, 4, 11, 8, 15, 0, 0, time.UTC), want: "2015-04-11 08:15:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}

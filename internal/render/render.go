// Package render writes result tables for a terminal or a pipe.
package render

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jinzhu/inflection"

	"krsp-query/internal/resultset"
	"krsp-query/internal/sqltype"
)

// Format selects an output encoding.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Formats lists the accepted format names.
var Formats = []string{string(FormatTable), string(FormatJSON), string(FormatCSV), string(FormatMarkdown)}

// ParseFormat maps a user-supplied name to a Format. Empty means table.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected one of %s)", name, strings.Join(Formats, ", "))
	}
}

// Write renders t to w in the given format.
func Write(w io.Writer, t *resultset.Table, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, t)
	case FormatCSV:
		return writeCSV(w, t)
	case FormatMarkdown:
		return writeMarkdown(w, t)
	default:
		return writeTable(w, t)
	}
}

// RowCount renders "(1 row)", "(2 rows)" and so on.
func RowCount(n int) string {
	noun := "row"
	if n != 1 {
		noun = inflection.Plural(noun)
	}
	return fmt.Sprintf("(%d %s)", n, noun)
}

// TruncationNotice describes a capped result, or returns "" when t is complete.
func TruncationNotice(t *resultset.Table) string {
	if !t.Truncated {
		return ""
	}
	noun := "row"
	if t.Limit != 1 {
		noun = inflection.Plural(noun)
	}
	return fmt.Sprintf("result truncated at %d %s; raise --limit or pass --unbounded for every row", t.Limit, noun)
}

func newWriter(t *resultset.Table) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Header = text.FormatDefault
	header := make(table.Row, len(t.Columns))
	var configs []table.ColumnConfig
	for i, col := range t.Columns {
		header[i] = col.Name
		if col.Category == sqltype.Int || col.Category == sqltype.Float {
			configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)
	for _, row := range t.Rows {
		cells := make(table.Row, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		tw.AppendRow(cells)
	}
	return tw
}

func writeTable(w io.Writer, t *resultset.Table) error {
	if t.Len() == 0 {
		_, err := fmt.Fprintln(w, RowCount(0))
		return err
	}
	tw := newWriter(t)
	if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, RowCount(t.Len()))
	return err
}

func writeMarkdown(w io.Writer, t *resultset.Table) error {
	_, err := fmt.Fprintln(w, newWriter(t).RenderMarkdown())
	return err
}

func writeCSV(w io.Writer, t *resultset.Table) error {
	tw := table.NewWriter()
	tw.Style().Format.Header = text.FormatDefault
	header := make(table.Row, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col.Name
	}
	tw.AppendHeader(header)
	for _, row := range t.Rows {
		cells := make(table.Row, len(row))
		for i, v := range row {
			cells[i] = ""
			if v != nil {
				cells[i] = formatValue(v)
			}
		}
		tw.AppendRow(cells)
	}
	_, err := fmt.Fprintln(w, tw.RenderCSV())
	return err
}

// writeJSON emits an array of objects with keys in column order.
func writeJSON(w io.Writer, t *resultset.Table) error {
	var b strings.Builder
	b.WriteString("[")
	for i, row := range t.Rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n  {")
		for j, col := range t.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			key, err := marshalJSON(col.Name)
			if err != nil {
				return err
			}
			val, err := marshalJSON(jsonValue(row[j]))
			if err != nil {
				return fmt.Errorf("column %s: %w", col.Name, err)
			}
			b.Write(key)
			b.WriteString(": ")
			b.Write(val)
		}
		b.WriteString("}")
	}
	if t.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("]\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// marshalJSON encodes v without HTML escaping and without the encoder's
// trailing newline.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return hex.EncodeToString(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return "0x" + hex.EncodeToString(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.DateTime)
	default:
		return fmt.Sprint(val)
	}
}

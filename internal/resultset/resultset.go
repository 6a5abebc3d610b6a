// Package resultset holds materialized query results: an ordered column
// schema plus rows of Go values normalized by column category.
package resultset

import (
	"fmt"
	"slices"
	"strconv"

	"krsp-query/internal/dbexec"
	"krsp-query/internal/sqltype"
)

// Column describes one column of a result table.
type Column struct {
	Name         string
	DatabaseType string
	Category     sqltype.Category
}

// Table is an in-memory result. Rows hold nil, int64, float64, bool,
// string, time.Time or []byte values in column order.
type Table struct {
	Columns []Column
	Rows    [][]any
	// Truncated reports that more rows were available than Limit allowed.
	Truncated bool
	// Limit is the row cap the table was read under, or -1 when unbounded.
	Limit int
	// Query is the statement that produced the table.
	Query string
	Args  []any
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of the named column. Names are case-sensitive.
func (t *Table) ColumnIndex(name string) (int, bool) {
	idx := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	return idx, idx >= 0
}

// Value returns the value of the named column in row i.
func (t *Table) Value(i int, name string) (any, bool) {
	idx, ok := t.ColumnIndex(name)
	if !ok || i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[i][idx], true
}

// ColumnValues returns every value of the named column.
func (t *Table) ColumnValues(name string) ([]any, bool) {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Records returns the rows as column-name keyed maps.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, col := range t.Columns {
			rec[col.Name] = row[j]
		}
		out[i] = rec
	}
	return out
}

// Read drains rows into a table. It reads at most limit+1 rows: when the
// extra row exists the table keeps limit rows and is marked Truncated. A
// negative limit reads everything.
//
// When columns is nil the schema is taken from the driver's column types.
// Otherwise it must match the driver's column count.
func Read(rows dbexec.Rows, limit int, columns []Column) (*Table, error) {
	if columns == nil {
		var err error
		if columns, err = driverColumns(rows); err != nil {
			return nil, err
		}
	} else {
		names, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		if len(names) != len(columns) {
			return nil, fmt.Errorf("result has %d columns, expected %d", len(names), len(columns))
		}
	}

	table := &Table{Columns: columns, Rows: [][]any{}, Limit: limit}
	for rows.Next() {
		if limit >= 0 && len(table.Rows) == limit {
			table.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, col := range columns {
			v, err := Normalize(values[i], col.Category)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col.Name, err)
			}
			values[i] = v
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func driverColumns(rows dbexec.Rows) ([]Column, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]Column, len(types))
	for i, ct := range types {
		dbType := ct.DatabaseTypeName()
		columns[i] = Column{Name: ct.Name(), DatabaseType: dbType, Category: sqltype.Classify(dbType)}
	}
	return columns, nil
}

// Normalize converts a scanned driver value to the Go type of its category.
// Drivers hand text, decimals and untyped expressions back as []byte.
func Normalize(val any, category sqltype.Category) (any, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case []byte:
		switch category {
		case sqltype.Bytes:
			return slices.Clone(v), nil
		case sqltype.Int:
			if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(string(v), 64); err == nil {
				return f, nil
			}
			return string(v), nil
		case sqltype.Float:
			f, err := strconv.ParseFloat(string(v), 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		case sqltype.Bool:
			b, err := strconv.ParseBool(string(v))
			if err != nil {
				return nil, err
			}
			return b, nil
		default:
			return string(v), nil
		}
	case int64:
		if category == sqltype.Bool {
			return v != 0, nil
		}
		return v, nil
	default:
		return v, nil
	}
}

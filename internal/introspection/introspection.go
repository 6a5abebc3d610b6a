// Package introspection reads table metadata for the krsp schema: tables,
// columns, primary keys and foreign keys. MySQL is read through
// INFORMATION_SCHEMA and SQLite through its pragma table functions. Row data
// is never touched.
package introspection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
)

// ErrTableNotFound is returned by DescribeTable when no table matches the exact name.
var ErrTableNotFound = errors.New("table not found")

// Column is one column of a table.
type Column struct {
	Name string
	// DataType is the bare type name (int, varchar); ColumnType is the full declaration.
	DataType      string
	ColumnType    string
	Category      sqltype.Category
	Position      int
	IsNullable    bool
	IsPrimaryKey  bool
	HasDefault    bool
	ColumnDefault string
	EnumValues    []string
	Comment       string
}

// ForeignKey is one column of a foreign key constraint.
type ForeignKey struct {
	ColumnName       string // e.g., "squirrel_id"
	ReferencedTable  string // e.g., "squirrel"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "litter_ibfk_1"
	OrdinalPosition  int    // Column position within the FK constraint
}

// Table is a table or view with its columns in ordinal order.
type Table struct {
	Name        string
	IsView      bool
	Comment     string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Column returns the column with exactly this name. Matching is case-sensitive.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in ordinal order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// PrimaryKey returns the primary key column names in column order, or nil.
func (t Table) PrimaryKey() []string {
	var names []string
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			names = append(names, col.Name)
		}
	}
	return names
}

// Schema is every visible table of one database schema.
type Schema struct {
	Name   string
	Tables []Table
}

// Table returns the table with exactly this name.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TableInfo is the catalog entry of a table without its columns.
type TableInfo struct {
	Name    string
	IsView  bool
	Comment string
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// reader is the dialect-specific half of introspection.
type reader interface {
	tables(ctx context.Context, name string) ([]TableInfo, error)
	columns(ctx context.Context, table string) ([]Column, error)
	foreignKeys(ctx context.Context, table string) ([]ForeignKey, error)
}

func newReader(db Queryer, dialect sqlutil.Dialect, schema string) reader {
	if dialect == sqlutil.SQLite {
		return sqliteReader{db: db}
	}
	return mysqlReader{db: db, schema: schema}
}

// ReadSchema reads every table of a schema with its columns and foreign keys.
func ReadSchema(ctx context.Context, db Queryer, dialect sqlutil.Dialect, schemaName string) (*Schema, error) {
	var schema *Schema
	err := traced(ctx, "introspection.read_schema", func(ctx context.Context) error {
		r := newReader(db, dialect, schemaName)
		infos, err := r.tables(ctx, "")
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		schema = &Schema{Name: schemaName, Tables: make([]Table, 0, len(infos))}
		for _, info := range infos {
			table, err := load(ctx, r, info)
			if err != nil {
				return err
			}
			schema.Tables = append(schema.Tables, table)
		}
		return nil
	}, attribute.String("db.name", schemaName), attribute.String("db.system", dialect.String()))
	return schema, err
}

// ListTables returns the tables and views of a schema ordered by name.
func ListTables(ctx context.Context, db Queryer, dialect sqlutil.Dialect, schemaName string) ([]TableInfo, error) {
	var infos []TableInfo
	err := traced(ctx, "introspection.list_tables", func(ctx context.Context) error {
		var err error
		infos, err = newReader(db, dialect, schemaName).tables(ctx, "")
		return err
	}, attribute.String("db.name", schemaName))
	return infos, err
}

// DescribeTable reads one table's columns and foreign keys.
// The name must match exactly; a case-insensitive match is not a match.
func DescribeTable(ctx context.Context, db Queryer, dialect sqlutil.Dialect, schemaName, tableName string) (*Table, error) {
	var table *Table
	err := traced(ctx, "introspection.describe_table", func(ctx context.Context) error {
		r := newReader(db, dialect, schemaName)
		candidates, err := r.tables(ctx, tableName)
		if err != nil {
			return err
		}
		for _, info := range candidates {
			// INFORMATION_SCHEMA may compare names case-insensitively.
			if info.Name != tableName {
				continue
			}
			loaded, err := load(ctx, r, info)
			if err != nil {
				return err
			}
			table = &loaded
			return nil
		}
		return ErrTableNotFound
	}, attribute.String("db.name", schemaName), attribute.String("db.table", tableName))
	return table, err
}

func load(ctx context.Context, r reader, info TableInfo) (Table, error) {
	table := Table{Name: info.Name, IsView: info.IsView, Comment: info.Comment}
	cols, err := r.columns(ctx, info.Name)
	if err != nil {
		return Table{}, fmt.Errorf("columns of %s: %w", info.Name, err)
	}
	table.Columns = cols
	if info.IsView {
		return table, nil
	}
	if table.ForeignKeys, err = r.foreignKeys(ctx, info.Name); err != nil {
		return Table{}, fmt.Errorf("foreign keys of %s: %w", info.Name, err)
	}
	return table, nil
}

// collect runs query and scans every row with scan.
func collect[T any](ctx context.Context, db Queryer, scan func(*sql.Rows) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func traced(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer("krsp-query/introspection").Start(ctx, name)
	defer span.End()
	span.SetAttributes(attrs...)
	err := fn(ctx)
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"krsp-query/internal/connection"
	"krsp-query/internal/introspection"
	"krsp-query/internal/resultset"
	"krsp-query/internal/sqltype"
)

func newTablesCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the krsp schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				tables, err := h.Tables(ctx)
				if err != nil {
					return err
				}
				out := metadataTable("table", "kind", "comment")
				for _, t := range tables {
					out.Rows = append(out.Rows, []any{t.Name, tableKind(t.IsView), t.Comment})
				}
				return rt.write(cmd, out)
			})
		},
	}
}

func newDescribeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show the columns of one table",
		Long:  "Show the columns of one table. Table names are case-sensitive.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				table, err := h.DescribeTable(ctx, args[0])
				if err != nil {
					return err
				}
				out := metadataTable("column", "type", "nullable", "key", "default", "comment")
				for _, col := range table.Columns {
					out.Rows = append(out.Rows, []any{
						col.Name,
						columnType(col),
						col.IsNullable,
						columnKey(table, col),
						columnDefault(col),
						col.Comment,
					})
				}
				return rt.write(cmd, out)
			})
		},
	}
}

func newSchemaCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List every column of every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withHandle(cmd.Context(), func(ctx context.Context, h *connection.Handle) error {
				schema, err := h.Snapshot(ctx)
				if err != nil {
					return err
				}
				out := metadataTable("table", "column", "type", "nullable", "key")
				for _, table := range schema.Tables {
					for _, col := range table.Columns {
						out.Rows = append(out.Rows, []any{table.Name, col.Name, columnType(col), col.IsNullable, columnKey(table, col)})
					}
				}
				return rt.write(cmd, out)
			})
		},
	}
}

// metadataTable builds an empty result table of the named columns. "nullable"
// is a boolean column; everything else is text.
func metadataTable(names ...string) *resultset.Table {
	cols := make([]resultset.Column, len(names))
	for i, name := range names {
		cols[i] = resultset.Column{Name: name, Category: sqltype.String}
		if name == "nullable" {
			cols[i].Category = sqltype.Bool
		}
	}
	return &resultset.Table{Columns: cols, Rows: [][]any{}, Limit: -1}
}

func tableKind(isView bool) string {
	if isView {
		return "view"
	}
	return "table"
}

func columnType(col introspection.Column) string {
	if col.ColumnType != "" {
		return col.ColumnType
	}
	return col.DataType
}

func columnDefault(col introspection.Column) any {
	if !col.HasDefault {
		return nil
	}
	return col.ColumnDefault
}

func columnKey(table introspection.Table, col introspection.Column) string {
	var parts []string
	if col.IsPrimaryKey {
		parts = append(parts, "PRI")
	}
	for _, fk := range table.ForeignKeys {
		if fk.ColumnName == col.Name {
			parts = append(parts, fmt.Sprintf("FK %s.%s", fk.ReferencedTable, fk.ReferencedColumn))
		}
	}
	return strings.Join(parts, ", ")
}

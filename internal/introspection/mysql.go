package introspection

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"krsp-query/internal/sqltype"
)

type mysqlReader struct {
	db     Queryer
	schema string
}

func (r mysqlReader) tables(ctx context.Context, name string) ([]TableInfo, error) {
	query := `SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')`
	args := []any{r.schema}
	if name != "" {
		query += ` AND TABLE_NAME = ?`
		args = append(args, name)
	}
	query += ` ORDER BY TABLE_NAME`

	return collect(ctx, r.db, func(rows *sql.Rows) (TableInfo, error) {
		var (
			info    TableInfo
			kind    string
			comment sql.NullString
		)
		err := rows.Scan(&info.Name, &kind, &comment)
		info.IsView = strings.EqualFold(kind, "VIEW")
		info.Comment = strings.TrimSpace(comment.String)
		return info, err
	}, query, args...)
}

func (r mysqlReader) columns(ctx context.Context, table string) ([]Column, error) {
	const query = `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COLUMN_KEY, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	cols, err := collect(ctx, r.db, func(rows *sql.Rows) (Column, error) {
		var (
			col                Column
			key, nullable      string
			defaultVal, remark sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &key, &nullable, &defaultVal, &remark); err != nil {
			return Column{}, err
		}
		col.Category = sqltype.Classify(col.ColumnType)
		col.IsPrimaryKey = key == "PRI"
		col.IsNullable = nullable == "YES"
		col.HasDefault = defaultVal.Valid
		col.ColumnDefault = defaultVal.String
		col.Comment = strings.TrimSpace(remark.String)
		if dt := strings.ToLower(col.DataType); dt == "enum" || dt == "set" {
			members, err := memberList(col.ColumnType)
			if err != nil {
				slog.Default().Warn("unreadable member list", slog.String("table", table),
					slog.String("column", col.Name), slog.String("error", err.Error()))
			}
			col.EnumValues = members
		}
		return col, nil
	}, query, r.schema, table)
	for i := range cols {
		cols[i].Position = i + 1
	}
	return cols, err
}

func (r mysqlReader) foreignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	const query = `SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`

	return collect(ctx, r.db, func(rows *sql.Rows) (ForeignKey, error) {
		var fk ForeignKey
		err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition)
		return fk, err
	}, query, r.schema, table)
}

package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"krsp-query/internal/sqltype"
)

// sqliteReader ignores the schema name: a snapshot file holds one schema.
type sqliteReader struct {
	db Queryer
}

func (r sqliteReader) tables(ctx context.Context, name string) ([]TableInfo, error) {
	query := `SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`
	var args []any
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY name`

	return collect(ctx, r.db, func(rows *sql.Rows) (TableInfo, error) {
		var info TableInfo
		var kind string
		err := rows.Scan(&info.Name, &kind)
		info.IsView = kind == "view"
		return info, err
	}, query, args...)
}

func (r sqliteReader) columns(ctx context.Context, table string) ([]Column, error) {
	return collect(ctx, r.db, func(rows *sql.Rows) (Column, error) {
		var (
			col         Column
			cid         int
			notNull, pk int
			defaultVal  sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.ColumnType, &notNull, &defaultVal, &pk); err != nil {
			return Column{}, err
		}
		col.Position = cid + 1
		col.DataType = baseType(col.ColumnType)
		col.Category = sqltype.Classify(col.ColumnType)
		col.IsPrimaryKey = pk > 0
		col.IsNullable = notNull == 0 && pk == 0
		col.HasDefault = defaultVal.Valid
		col.ColumnDefault = defaultVal.String
		return col, nil
	}, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
}

// baseType strips the length from a declared type: "VARCHAR(2)" is "varchar".
func baseType(declared string) string {
	base, _, _ := strings.Cut(declared, "(")
	return strings.ToLower(strings.TrimSpace(base))
}

func (r sqliteReader) foreignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	fks, err := collect(ctx, r.db, func(rows *sql.Rows) (ForeignKey, error) {
		var (
			fk      ForeignKey
			id, seq int
			to      sql.NullString
		)
		err := rows.Scan(&id, &seq, &fk.ReferencedTable, &fk.ColumnName, &to)
		fk.ConstraintName = fmt.Sprintf("%s_fk_%d", table, id)
		fk.OrdinalPosition = seq + 1
		fk.ReferencedColumn = to.String
		return fk, err
	}, `SELECT id, seq, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table)
	if err != nil {
		return nil, err
	}

	// REFERENCES parent with no column list points at the parent's primary key.
	for i := range fks {
		if fks[i].ReferencedColumn != "" {
			continue
		}
		parent, err := r.columns(ctx, fks[i].ReferencedTable)
		if err != nil {
			return nil, err
		}
		pk := Table{Columns: parent}.PrimaryKey()
		if pos := fks[i].OrdinalPosition - 1; pos < len(pk) {
			fks[i].ReferencedColumn = pk[pos]
		}
	}
	return fks, nil
}

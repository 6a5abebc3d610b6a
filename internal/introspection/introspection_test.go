package introspection

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
	"krsp-query/internal/testutil/krspdb"
)

var (
	tablesQuery      = regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES")
	columnsQuery     = regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")
	foreignKeysQuery = regexp.QuoteMeta("AND REFERENCED_TABLE_NAME IS NOT NULL")
)

func TestDescribeTable_MySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(tablesQuery).WithArgs("krsp", "litter").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"}).
			AddRow("litter", "BASE TABLE", "one row per litter"))
	mock.ExpectQuery(columnsQuery).WithArgs("krsp", "litter").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_KEY", "IS_NULLABLE", "COLUMN_DEFAULT", "COLUMN_COMMENT"}).
			AddRow("litter_id", "int", "int(11)", "PRI", "NO", nil, "").
			AddRow("squirrel_id", "int", "int(11)", "MUL", "NO", nil, "dam").
			AddRow("br", "tinyint", "tinyint(4)", "", "YES", nil, "breeding status").
			AddRow("fieldBDate", "date", "date", "", "YES", nil, "").
			AddRow("status", "enum", "enum('open','closed')", "", "NO", "open", ""))
	mock.ExpectQuery(foreignKeysQuery).WithArgs("krsp", "litter").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}).
			AddRow("squirrel_id", "squirrel", "id", "litter_ibfk_1", 1))

	table, err := DescribeTable(t.Context(), db, sqlutil.MySQL, "krsp", "litter")
	require.NoError(t, err)

	assert.Equal(t, "litter", table.Name)
	assert.Equal(t, "one row per litter", table.Comment)
	assert.Equal(t, []string{"litter_id", "squirrel_id", "br", "fieldBDate", "status"}, table.ColumnNames())

	pk, ok := table.Column("litter_id")
	require.True(t, ok)
	assert.True(t, pk.IsPrimaryKey)
	assert.False(t, pk.IsNullable)
	assert.Equal(t, sqltype.Int, pk.Category)

	br, _ := table.Column("br")
	assert.True(t, br.IsNullable)
	assert.Equal(t, "breeding status", br.Comment)

	birth, _ := table.Column("fieldBDate")
	assert.Equal(t, sqltype.Time, birth.Category)
	assert.Equal(t, 4, birth.Position)

	status, _ := table.Column("status")
	assert.Equal(t, []string{"open", "closed"}, status.EnumValues)
	assert.True(t, status.HasDefault)
	assert.Equal(t, []string{"litter_id"}, table.PrimaryKey())

	require.Len(t, table.ForeignKeys, 1)
	assert.Equal(t, "squirrel", table.ForeignKeys[0].ReferencedTable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeTable_MySQLExactCase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// INFORMATION_SCHEMA may compare names case-insensitively.
	mock.ExpectQuery(tablesQuery).WithArgs("krsp", "Litter").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"}).
			AddRow("litter", "BASE TABLE", ""))

	_, err = DescribeTable(t.Context(), db, sqlutil.MySQL, "krsp", "Litter")
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTables_MySQLError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	denied := errors.New("access denied")
	mock.ExpectQuery(tablesQuery).WithArgs("krsp").WillReturnError(denied)

	_, err = ListTables(t.Context(), db, sqlutil.MySQL, "krsp")
	assert.ErrorIs(t, err, denied)
}

func TestReadSchema_SQLite(t *testing.T) {
	fixture := krspdb.NewSQLite(t)

	schema, err := ReadSchema(t.Context(), fixture.DB, sqlutil.SQLite, "krsp")
	require.NoError(t, err)

	names := make([]string, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		names = append(names, table.Name)
	}
	assert.ElementsMatch(t, krspdb.Tables, names)

	census, ok := schema.Table("census")
	require.True(t, ok)
	_, ok = census.Column("LocX")
	assert.True(t, ok)
	_, ok = census.Column("locx")
	assert.False(t, ok, "column lookup is case-sensitive")

	juvenile, ok := schema.Table("juvenile")
	require.True(t, ok)
	constraints := ForeignKeyConstraints(*juvenile)
	require.Len(t, constraints, 2)
	refs := []string{constraints[0].ReferencedTable, constraints[1].ReferencedTable}
	assert.ElementsMatch(t, []string{"litter", "squirrel"}, refs)

	squirrel, _ := schema.Table("squirrel")
	id, _ := squirrel.Column("id")
	assert.True(t, id.IsPrimaryKey)
	assert.Equal(t, sqltype.Int, id.Category)

	trapping, _ := schema.Table("trapping")
	wgt, _ := trapping.Column("wgt")
	assert.Equal(t, sqltype.Float, wgt.Category)
}

func TestDescribeTable_SQLite(t *testing.T) {
	fixture := krspdb.NewSQLite(t)

	litter, err := DescribeTable(t.Context(), fixture.DB, sqlutil.SQLite, "krsp", "litter")
	require.NoError(t, err)
	require.Len(t, litter.ForeignKeys, 1)
	assert.Equal(t, ForeignKey{
		ColumnName:       "squirrel_id",
		ReferencedTable:  "squirrel",
		ReferencedColumn: "id",
		ConstraintName:   "litter_fk_0",
		OrdinalPosition:  1,
	}, litter.ForeignKeys[0])

	_, err = DescribeTable(t.Context(), fixture.DB, sqlutil.SQLite, "krsp", "Litter")
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = DescribeTable(t.Context(), fixture.DB, sqlutil.SQLite, "krsp", "nests")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

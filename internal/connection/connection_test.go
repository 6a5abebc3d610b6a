package connection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krsp-query/internal/config"
	"krsp-query/internal/errs"
	"krsp-query/internal/schemafilter"
	"krsp-query/internal/sqlutil"
	"krsp-query/internal/testutil/krspdb"
)

func sqliteConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	fixture := krspdb.NewSQLite(t)
	return config.DatabaseConfig{Driver: config.DriverSQLite, Path: fixture.Path}
}

func TestConnect_CredentialConflict(t *testing.T) {
	_, err := Connect(t.Context(), config.DatabaseConfig{Profile: "krsp", User: "admin"})
	require.Error(t, err)

	var connErr *errs.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, errs.ErrCredentialConflict)
}

func TestConnect_SQLiteDefaults(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, sqlutil.SQLite, h.Dialect())
	assert.Equal(t, "krsp", h.Schema())
	assert.Equal(t, 100000, h.MaxRows())
	assert.NotEmpty(t, h.ID())
}

func TestConnect_OptionsOverrideResolvedSettings(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t), WithMaxRows(10), WithSchema("snapshot"))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 10, h.MaxRows())
	assert.Equal(t, "snapshot", h.Schema())
}

func TestConnect_SQLiteMissingPath(t *testing.T) {
	_, err := Connect(t.Context(), config.DatabaseConfig{Driver: config.DriverSQLite})
	var connErr *errs.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "connect", connErr.Op)
}

func TestClose_Idempotent(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t))
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.IsClosed())
}

func TestClosedHandle_RejectsOperations(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.DescribeTable(t.Context(), "squirrel")
	assert.ErrorIs(t, err, errs.ErrHandleClosed)

	_, err = h.Query(t.Context(), "collect", "SELECT 1")
	assert.ErrorIs(t, err, errs.ErrHandleClosed)
	var connErr *errs.ConnectionError
	assert.ErrorAs(t, err, &connErr)

	_, err = h.Tables(t.Context())
	assert.ErrorIs(t, err, errs.ErrHandleClosed)
}

func TestWithConnection_ClosesOnError(t *testing.T) {
	cfg := sqliteConfig(t)
	bodyErr := errors.New("analysis failed")

	var captured *Handle
	err := WithConnection(t.Context(), cfg, func(ctx context.Context, h *Handle) error {
		captured = h
		return bodyErr
	})
	assert.ErrorIs(t, err, bodyErr)
	require.NotNil(t, captured)
	assert.True(t, captured.IsClosed())
}

func TestWithConnection_ClosesOnPanic(t *testing.T) {
	cfg := sqliteConfig(t)

	var captured *Handle
	assert.Panics(t, func() {
		_ = WithConnection(t.Context(), cfg, func(ctx context.Context, h *Handle) error {
			captured = h
			panic("boom")
		})
	})
	require.NotNil(t, captured)
	assert.True(t, captured.IsClosed())
}

func TestWithConnection_Success(t *testing.T) {
	cfg := sqliteConfig(t)

	var columns []string
	err := WithConnection(t.Context(), cfg, func(ctx context.Context, h *Handle) error {
		table, err := h.DescribeTable(ctx, "squirrel")
		if err != nil {
			return err
		}
		columns = table.ColumnNames()
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, columns, "gr")
}

func TestDescribeTable_SchemaError(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t))
	require.NoError(t, err)
	defer h.Close()

	for _, name := range []string{"nests", "Squirrel"} {
		_, err := h.DescribeTable(t.Context(), name)
		var schemaErr *errs.SchemaError
		require.ErrorAs(t, err, &schemaErr, name)
		assert.Equal(t, name, schemaErr.Table)
		assert.Equal(t, "krsp", schemaErr.Schema)
	}
}

func TestDescribeTable_CachesMetadata(t *testing.T) {
	fixture := krspdb.NewSQLite(t)
	h, err := Connect(t.Context(), config.DatabaseConfig{Driver: config.DriverSQLite, Path: fixture.Path})
	require.NoError(t, err)
	defer h.Close()

	first, err := h.DescribeTable(t.Context(), "census")
	require.NoError(t, err)

	// A column added after the first lookup is not seen by the same handle.
	krspdb.Exec(t, fixture.DB, "ALTER TABLE census ADD COLUMN notes TEXT")

	second, err := h.DescribeTable(t.Context(), "census")
	require.NoError(t, err)
	assert.Equal(t, first.ColumnNames(), second.ColumnNames())
	assert.NotContains(t, second.ColumnNames(), "notes")

	_, ok := second.Column("LocX")
	assert.True(t, ok)
	_, ok = second.Column("locx")
	assert.False(t, ok)
}

func TestDescribeTable_SchemaFilters(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t), WithSchemaFilters(schemafilter.Config{
		DenyTables:  []string{"behaviour"},
		DenyColumns: map[string][]string{"squirrel": {"tag*"}},
	}))
	require.NoError(t, err)
	defer h.Close()

	_, err = h.DescribeTable(t.Context(), "behaviour")
	var schemaErr *errs.SchemaError
	assert.ErrorAs(t, err, &schemaErr)

	squirrel, err := h.DescribeTable(t.Context(), "squirrel")
	require.NoError(t, err)
	assert.NotContains(t, squirrel.ColumnNames(), "taglft")
	assert.Contains(t, squirrel.ColumnNames(), "colorlft")

	tables, err := h.Tables(t.Context())
	require.NoError(t, err)
	names := make([]string, len(tables))
	for i, table := range tables {
		names[i] = table.Name
	}
	assert.NotContains(t, names, "behaviour")
	assert.Contains(t, names, "litter")
}

func TestSnapshot(t *testing.T) {
	h, err := Connect(t.Context(), sqliteConfig(t))
	require.NoError(t, err)
	defer h.Close()

	schema, err := h.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Len(t, schema.Tables, len(krspdb.Tables))
}

func TestQuery_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		driver   error
		wantConn bool
		wantCode uint16
	}{
		{name: "syntax error", driver: &mysql.MySQLError{Number: 1064, Message: "syntax"}, wantCode: 1064},
		{name: "unknown column", driver: &mysql.MySQLError{Number: 1054, Message: "Unknown column"}, wantCode: 1054},
		{name: "access denied", driver: &mysql.MySQLError{Number: 1045, Message: "Access denied"}, wantConn: true},
		{name: "invalid connection", driver: mysql.ErrInvalidConn, wantConn: true},
		{name: "other", driver: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			h := Attach(db, sqlutil.MySQL)
			defer h.Close()

			const query = "SELECT `gr` FROM `krsp`.`squirrel`"
			mock.ExpectQuery("SELECT").WillReturnError(tt.driver)

			_, err = h.Query(t.Context(), "collect", query)
			require.Error(t, err)

			if tt.wantConn {
				var connErr *errs.ConnectionError
				assert.ErrorAs(t, err, &connErr)
				return
			}
			var execErr *errs.ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, query, execErr.Query)
			assert.Equal(t, tt.wantCode, execErr.Code)
		})
	}
}

func TestClassify(t *testing.T) {
	h := &Handle{host: "db.krsp.internal:3306"}
	tests := []struct {
		name     string
		err      error
		wantConn bool
	}{
		{name: "bad connection", err: driver.ErrBadConn, wantConn: true},
		{name: "wrapped bad connection", err: fmt.Errorf("read rows: %w", driver.ErrBadConn), wantConn: true},
		{name: "connection done", err: sql.ErrConnDone, wantConn: true},
		{name: "network", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, wantConn: true},
		{name: "local socket", err: &mysql.MySQLError{Number: 2002}, wantConn: true},
		{name: "unknown host", err: &mysql.MySQLError{Number: 2005}, wantConn: true},
		{name: "unknown database", err: &mysql.MySQLError{Number: 1049}, wantConn: true},
		{name: "lock wait", err: &mysql.MySQLError{Number: 1205}},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.classify("collect", "SELECT 1", nil, tt.err)
			assert.ErrorIs(t, err, tt.err)
			var connErr *errs.ConnectionError
			if tt.wantConn {
				require.ErrorAs(t, err, &connErr)
				assert.Equal(t, "db.krsp.internal:3306", connErr.Host)
				return
			}
			assert.False(t, errors.As(err, &connErr))
			var execErr *errs.ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, "SELECT 1", execErr.Query)
		})
	}
	assert.NoError(t, h.classify("collect", "SELECT 1", nil, nil))
}

func TestQueryReadOnly_UsesReadOnlyTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	h := Attach(db, sqlutil.MySQL)
	defer h.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	rows, err := h.QueryReadOnly(t.Context(), "raw_query", "SELECT 1")
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttach_Defaults(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	h := Attach(db, sqlutil.MySQL)
	defer h.Close()

	assert.Equal(t, "krsp", h.Schema())
	assert.Equal(t, 100000, h.MaxRows())
	assert.Empty(t, h.Host())
	assert.Nil(t, h.Metrics())
}

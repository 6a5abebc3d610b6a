// Package krspdb builds krsp fixture databases for tests: a SQLite snapshot
// file for unit tests and a throwaway MySQL database for integration tests.
package krspdb

import (
	"database/sql"
	"embed"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

//go:embed sql/*.sql
var scripts embed.FS

// Tables lists the fixture tables in creation order.
var Tables = []string{"squirrel", "trapping", "behaviour", "litter", "juvenile", "census"}

// SQLite is a fixture snapshot on disk.
type SQLite struct {
	// Path is the database file, suitable for config.DatabaseConfig.Path.
	Path string
	// DB is a single-connection read-write handle to the file.
	DB *sql.DB
}

// NewSQLite writes the krsp schema and fixture rows to a fresh SQLite file
// under t.TempDir. The handle is closed when the test finishes.
func NewSQLite(t testing.TB) *SQLite {
	t.Helper()

	path := filepath.Join(t.TempDir(), "krsp.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("Failed to open sqlite fixture: %v", err)
	}
	// In-memory state and temp tables are per connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close sqlite fixture: %v", err)
		}
	})

	Load(t, db, "sqlite_schema.sql")
	Load(t, db, "data.sql")
	return &SQLite{Path: path, DB: db}
}

// Load executes an embedded script statement by statement.
func Load(t testing.TB, db *sql.DB, name string) {
	t.Helper()

	payload, err := scripts.ReadFile("sql/" + name)
	if err != nil {
		t.Fatalf("Failed to read SQL script %s: %v", name, err)
	}
	Exec(t, db, string(payload))
}

// Exec runs semicolon-separated statements, failing the test on the first error.
func Exec(t testing.TB, db *sql.DB, script string) {
	t.Helper()

	for i, stmt := range splitSQL(script) {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

// splitSQL splits SQL text into individual statements.
// It splits on every semicolon, so fixture scripts keep semicolons out of literals and comments.
func splitSQL(sql string) []string {
	statements := strings.Split(sql, ";")
	result := make([]string, 0, len(statements))
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}

package krspdb

import (
	"database/sql"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Server is the integration MySQL server, taken from KRSP_TEST_* variables.
type Server struct {
	Host     string
	Port     int
	User     string
	Password string
	TLSMode  string
}

// MySQL is a krsp fixture loaded into its own database on a live server.
type MySQL struct {
	DB     *sql.DB
	Schema string
	Server Server
}

// NewMySQL creates a fresh database, loads the fixture and drops the database
// when the test ends. Without KRSP_TEST_HOST and KRSP_TEST_USER the test is
// skipped.
func NewMySQL(t testing.TB) *MySQL {
	t.Helper()
	srv := serverFromEnv(t)
	schema := "krsp_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin := srv.open(t, "")
	_, err := admin.Exec("CREATE DATABASE " + quoteName(schema))
	require.NoError(t, err, "create %s", schema)
	t.Cleanup(func() {
		if _, err := admin.Exec("DROP DATABASE IF EXISTS " + quoteName(schema)); err != nil {
			t.Logf("drop %s: %v", schema, err)
		}
		_ = admin.Close()
	})

	fixture := &MySQL{DB: srv.open(t, schema), Schema: schema, Server: srv}
	t.Cleanup(func() { _ = fixture.DB.Close() })

	Load(t, fixture.DB, "mysql_schema.sql")
	Load(t, fixture.DB, "data.sql")
	return fixture
}

func serverFromEnv(t testing.TB) Server {
	srv := Server{
		Host:     os.Getenv("KRSP_TEST_HOST"),
		Port:     3306,
		User:     os.Getenv("KRSP_TEST_USER"),
		Password: os.Getenv("KRSP_TEST_PASSWORD"),
		TLSMode:  os.Getenv("KRSP_TEST_TLS_MODE"),
	}
	if srv.Host == "" || srv.User == "" {
		t.Skip("set KRSP_TEST_HOST and KRSP_TEST_USER (optionally KRSP_TEST_PASSWORD, KRSP_TEST_PORT) to run against MySQL")
	}
	if raw := os.Getenv("KRSP_TEST_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		require.NoError(t, err, "KRSP_TEST_PORT")
		srv.Port = port
	}
	return srv
}

func (s Server) open(t testing.TB, schema string) *sql.DB {
	t.Helper()
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = s.Host + ":" + strconv.Itoa(s.Port)
	c.User = s.User
	c.Passwd = s.Password
	c.DBName = schema
	c.ParseTime = true
	switch s.TLSMode {
	case "", "off":
	default:
		c.TLSConfig = "skip-verify"
	}

	connector, err := mysql.NewConnector(c)
	require.NoError(t, err)
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Minute)
	require.NoError(t, db.PingContext(t.Context()), "ping %s", c.Addr)
	return db
}

// quoteName quotes a generated schema name for CREATE/DROP DATABASE, which
// take no placeholders.
func quoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

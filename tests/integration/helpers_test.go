//go:build integration
// +build integration

package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"krsp-query/internal/config"
	"krsp-query/internal/connection"
	"krsp-query/internal/testutil/krspdb"
)

// openHandle loads the krsp fixture into a throwaway MySQL database and
// connects a handle to it.
func openHandle(t *testing.T, opts ...connection.Option) (*connection.Handle, *krspdb.MySQL) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := krspdb.NewMySQL(t)
	cfg := config.DatabaseConfig{
		Driver:   config.DriverMySQL,
		Host:     testDB.Server.Host,
		Port:     testDB.Server.Port,
		User:     testDB.Server.User,
		Password: testDB.Server.Password,
		Schema:   testDB.Schema,
		TLS:      config.DatabaseTLSConfig{Mode: testDB.Server.TLSMode},
	}

	h, err := connection.Connect(t.Context(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, testDB
}

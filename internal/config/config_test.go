package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_MySQLConfig(t *testing.T) {
	tests := []struct {
		name       string
		config     DatabaseConfig
		wantAddr   string
		wantUser   string
		wantPasswd string
		wantDB     string
		wantTLS    string
	}{
		{
			name:     "local host maps to localhost",
			config:   DatabaseConfig{Host: "local", User: "root", Schema: "krsp"},
			wantAddr: "localhost:3306",
			wantUser: "root",
			wantDB:   "krsp",
		},
		{
			name: "with special characters in password",
			config: DatabaseConfig{
				Host:     "db.example.com",
				Port:     3307,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Schema:   "krsp",
			},
			wantAddr:   "db.example.com:3307",
			wantUser:   "admin",
			wantPasswd: "p@ss:w0rd!",
			wantDB:     "krsp",
		},
		{
			name:     "host with port wins over port field",
			config:   DatabaseConfig{Host: "10.0.0.5:3310", Port: 3306, User: "field", Schema: "krsp_2019"},
			wantAddr: "10.0.0.5:3310",
			wantUser: "field",
			wantDB:   "krsp_2019",
		},
		{
			name:     "tls off",
			config:   DatabaseConfig{Host: "local", User: "root", Schema: "krsp", TLS: DatabaseTLSConfig{Mode: "off"}},
			wantAddr: "localhost:3306",
			wantUser: "root",
			wantDB:   "krsp",
			wantTLS:  "false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := tt.config.MySQLConfig()
			require.NoError(t, err)
			assert.Equal(t, "tcp", parsed.Net)
			assert.Equal(t, tt.wantAddr, parsed.Addr)
			assert.Equal(t, tt.wantUser, parsed.User)
			assert.Equal(t, tt.wantPasswd, parsed.Passwd)
			assert.Equal(t, tt.wantDB, parsed.DBName)
			assert.Equal(t, tt.wantTLS, parsed.TLSConfig)
			assert.True(t, parsed.ParseTime)
			assert.Equal(t, time.UTC, parsed.Loc)
		})
	}
}

func TestDatabaseConfig_MySQLConfigTLS(t *testing.T) {
	d := DatabaseConfig{Host: "local", TLS: DatabaseTLSConfig{Mode: "verify-full", ServerName: "krsp.example.org"}}
	c, err := d.MySQLConfig()
	require.NoError(t, err)
	require.NotNil(t, c.TLS)
	assert.Equal(t, "krsp.example.org", c.TLS.ServerName)
	assert.False(t, c.TLS.InsecureSkipVerify)

	d.TLS = DatabaseTLSConfig{Mode: "verify-ca", CAFile: filepath.Join(t.TempDir(), "missing.pem")}
	_, err = d.MySQLConfig()
	assert.ErrorContains(t, err, "ca_file")

	d.TLS = DatabaseTLSConfig{Mode: "skip-verify"}
	c, err = d.MySQLConfig()
	require.NoError(t, err)
	assert.Equal(t, "skip-verify", c.TLSConfig)

	// the connector must still accept the config as a DSN round trip
	_, err = mysql.ParseDSN(c.FormatDSN())
	require.NoError(t, err)
}

func TestDatabaseConfig_SQLiteDSN(t *testing.T) {
	d := DatabaseConfig{Path: "/data/krsp.db"}
	assert.Equal(t, "file:/data/krsp.db?mode=ro", d.SQLiteDSN())

	d = DatabaseConfig{Path: "file:krsp.db?cache=shared"}
	assert.Equal(t, "file:krsp.db?cache=shared&mode=ro", d.SQLiteDSN())
}

// TestLoad_WithEnvVars tests configuration loading from environment variables
func TestLoad_WithEnvVars(t *testing.T) {
	t.Setenv("KRSP_DATABASE_HOST", "envhost")
	t.Setenv("KRSP_DATABASE_PORT", "5000")
	t.Setenv("KRSP_DATABASE_USER", "envuser")
	t.Setenv("KRSP_DATABASE_MAX_ROWS", "250")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "envhost", cfg.Database.Host)
	assert.Equal(t, 5000, cfg.Database.Port)
	assert.Equal(t, "envuser", cfg.Database.User)
	assert.Equal(t, 250, cfg.Database.MaxRows)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRows, cfg.Database.MaxRows)
	assert.Empty(t, cfg.Database.Host)
	assert.Empty(t, cfg.Database.Schema)
	assert.Equal(t, "table", cfg.Output.Format)
	assert.Equal(t, "warn", cfg.Observability.Logging.Level)
	assert.Equal(t, []string{"*"}, cfg.SchemaFilters.AllowTables)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoad_FlagsOverrideEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "krspq.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
database:
  host: filehost
  schema: krsp_file
  max_rows: 10
output:
  format: json
`), 0o600))

	t.Setenv("KRSP_DATABASE_HOST", "envhost")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	fs.Bool("unbounded", false, "caller flag outside the config namespace")
	require.NoError(t, fs.Parse([]string{
		"--config", cfgFile,
		"--database.max_rows", "42",
		"--schema_filters.deny_tables", "census,behaviour",
		"--unbounded",
	}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "envhost", cfg.Database.Host, "env beats file")
	assert.Equal(t, "krsp_file", cfg.Database.Schema, "file beats defaults")
	assert.Equal(t, 42, cfg.Database.MaxRows, "flags beat file")
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, []string{"census", "behaviour"}, cfg.SchemaFilters.DenyTables)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "krspq.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
database:
  dsn: "root@tcp(localhost:3306)/krsp"
`), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", cfgFile}))

	_, err := Load(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestLoad_PasswordFile(t *testing.T) {
	dir := t.TempDir()
	pwFile := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(pwFile, []byte("s3cret\n"), 0o600))
	t.Setenv("KRSP_DATABASE_PASSWORD_FILE", pwFile)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestObservabilityConfig_GetTracesConfig(t *testing.T) {
	cfg := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint: "collector:4317",
			Protocol: "grpc",
			Headers:  map[string]string{"a": "1"},
			Timeout:  10 * time.Second,
		},
		Traces: &OTLPConfig{
			Endpoint: "traces:4318",
			Protocol: "http/protobuf",
			Headers:  map[string]string{"b": "2"},
		},
	}

	traces := cfg.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)

	assert.Equal(t, "collector:4317", cfg.GetLogsConfig().Endpoint)
}

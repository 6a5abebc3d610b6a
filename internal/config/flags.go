package config

import (
	"time"

	"github.com/spf13/pflag"
)

// DefineFlags registers every configuration key as a flag named by its dotted
// key, e.g. --database.max_rows. Flags left at their zero value never override
// the environment or the config file.
func DefineFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Config file path")

	fs.String("database.driver", "", "Backing store driver (mysql, sqlite)")
	fs.String("database.path", "", "Database file for the sqlite driver (opened read-only)")
	fs.String("database.host", "", `Database host, host:port, or "local"`)
	fs.Int("database.port", 0, "Database port (default 3306)")
	fs.String("database.user", "", "Database user (default: current OS user)")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "File holding the database password (@- reads stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for the database password")
	fs.String("database.profile", "", "Option-file group holding the connection credentials")
	fs.String("database.option_file", "", "MySQL option file read for profiles (default ~/.my.cnf)")
	fs.String("database.schema", "", "Schema to query (default krsp)")
	fs.Int("database.max_rows", 0, "Row cap applied to collects (default 100000)")
	fs.Duration("database.query_timeout", 0, "Timeout for a single query (0 = none)")
	fs.Duration("database.connection_timeout", 0, "Dial timeout for the initial connection")

	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "CA certificate used to verify the server")
	fs.String("database.tls.cert_file", "", "Client certificate")
	fs.String("database.tls.key_file", "", "Client private key")
	fs.String("database.tls.server_name", "", "Server name expected on the certificate")

	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m)")

	fs.StringSlice("schema_filters.allow_tables", nil, "Table globs to expose (comma-separated or repeated)")
	fs.StringSlice("schema_filters.deny_tables", nil, "Table globs to hide (comma-separated or repeated)")

	fs.String("output.format", "", "Result format (table, json, csv, markdown)")
	fs.Bool("output.show_sql", false, "Print generated SQL to stderr")

	fs.String("observability.service_name", "", "Service name reported to OpenTelemetry")
	fs.String("observability.environment", "", "Deployment environment (dev, field, prod)")
	fs.Bool("observability.metrics_enabled", false, "Collect query metrics")
	fs.String("observability.metrics_addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	fs.Bool("observability.tracing_enabled", false, "Export traces over OTLP")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Add trace context comments to SQL")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Export logs over OTLP")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for every signal (e.g. localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Send OTLP without TLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
}

// defaults are the lowest-precedence values. Host, user, password and schema
// stay empty here so Resolve can tell a profile from explicit credentials.
func defaults() map[string]any {
	return map[string]any{
		"database.driver":             DriverMySQL,
		"database.path":               "",
		"database.host":               "",
		"database.port":               0,
		"database.user":               "",
		"database.password":           "",
		"database.password_file":      "",
		"database.password_prompt":    false,
		"database.profile":            "",
		"database.option_file":        "",
		"database.schema":             "",
		"database.max_rows":           DefaultMaxRows,
		"database.query_timeout":      time.Duration(0),
		"database.connection_timeout": 10 * time.Second,
		"database.tls.mode":           "",
		"database.tls.ca_file":        "",
		"database.tls.cert_file":      "",
		"database.tls.key_file":       "",
		"database.tls.server_name":    "",
		"database.pool.max_open":      4,
		"database.pool.max_idle":      2,
		"database.pool.max_lifetime":  5 * time.Minute,

		"schema_filters.allow_tables":       []string{"*"},
		"schema_filters.deny_tables":        []string{},
		"schema_filters.allow_columns":      map[string][]string{"*": {"*"}},
		"schema_filters.deny_columns":       map[string][]string{},
		"schema_filters.scan_views_enabled": true,

		"output.format":   "table",
		"output.show_sql": false,

		"observability.service_name":            "krspq",
		"observability.service_version":         "",
		"observability.environment":             "development",
		"observability.metrics_enabled":         false,
		"observability.metrics_addr":            "",
		"observability.tracing_enabled":         false,
		"observability.trace_sample_ratio":      1.0,
		"observability.sqlcommenter_enabled":    false,
		"observability.logging.level":           "warn",
		"observability.logging.format":          "text",
		"observability.logging.exports_enabled": false,

		"observability.otlp.endpoint":             "localhost:4317",
		"observability.otlp.protocol":             "grpc",
		"observability.otlp.insecure":             false,
		"observability.otlp.tls_cert_file":        "",
		"observability.otlp.tls_client_cert_file": "",
		"observability.otlp.tls_client_key_file":  "",
		"observability.otlp.headers":              map[string]string{},
		"observability.otlp.timeout":              10 * time.Second,
		"observability.otlp.compression":          "gzip",
		"observability.otlp.retry_enabled":        true,
		"observability.otlp.retry_max_attempts":   3,
	}
}

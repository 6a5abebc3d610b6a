package config

import (
	"cmp"
	"maps"
	"time"

	"krsp-query/internal/schemafilter"
)

// Config is everything krspq reads from flags, environment and the config file.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	SchemaFilters schemafilter.Config `mapstructure:"schema_filters"`
	Output        OutputConfig        `mapstructure:"output"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig sizes the database/sql pool behind a handle.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig secures the MySQL connection. Mode is one of "" (driver
// default), "off", "skip-verify", "verify-ca" (chain only) or "verify-full"
// (chain and host name).
type DatabaseTLSConfig struct {
	Mode       string `mapstructure:"mode"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"` // client certificate, with KeyFile
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"` // defaults to the host
}

// DatabaseConfig holds the parameters of a connection handle.
//
// Credentials come from exactly one of two places: the discrete Host/User/
// Password fields, or a named Profile (a group in a MySQL option file).
// Leaving both empty connects to the local server as the current OS user
// without a password.
type DatabaseConfig struct {
	// Driver selects the backing store: "mysql" (default) or "sqlite".
	Driver string `mapstructure:"driver"`
	// Path is the database file for the sqlite driver. It is opened read-only.
	Path string `mapstructure:"path"`

	// Host is a hostname, host:port, or "local" for localhost:3306.
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`

	// Profile names an option-file group holding host, user and password.
	Profile string `mapstructure:"profile"`
	// OptionFile is the MySQL option file profiles are read from (default ~/.my.cnf).
	OptionFile string `mapstructure:"option_file"`

	// Schema is the default schema queried by the handle (default "krsp").
	Schema string `mapstructure:"schema"`
	// MaxRows caps rows returned by a collect unless the caller asks for more.
	MaxRows int `mapstructure:"max_rows"`
	// QueryTimeout bounds a single collect or raw query. Zero means no timeout.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the dial timeout for the initial ping.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	DefaultHost    = "local"
	DefaultSchema  = "krsp"
	DefaultMaxRows = 100000
	DefaultPort    = 3306
)

// OutputConfig controls how the CLI renders results.
type OutputConfig struct {
	Format string `mapstructure:"format"` // table, json, csv, markdown
	// ShowSQL prints the generated query text to stderr before results.
	ShowSQL bool `mapstructure:"show_sql"`
}

// LoggingConfig selects the stderr log level and encoding, and whether
// records are also exported over OTLP.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig covers metrics, tracing and log export.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	MetricsAddr         string        `mapstructure:"metrics_addr"` // optional /metrics listener, e.g. ":9464"
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"` // traceparent comment on each statement
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP is shared by traces and logs; Traces and Logs override it per signal.
	OTLP   OTLPConfig  `mapstructure:"otlp"`
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig points an exporter at a collector.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"`
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"`
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the OTLP settings for traces: the traces block
// laid over the shared otlp block.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig { return c.OTLP.overlay(c.Traces) }

// GetLogsConfig returns the OTLP settings for log export.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig { return c.OTLP.overlay(c.Logs) }

// overlay returns base with every set field of o applied. Insecure always
// follows o, since false cannot be told apart from unset.
func (base OTLPConfig) overlay(o *OTLPConfig) OTLPConfig {
	if o == nil {
		return base
	}
	out := OTLPConfig{
		Endpoint:          cmp.Or(o.Endpoint, base.Endpoint),
		Protocol:          cmp.Or(o.Protocol, base.Protocol),
		Insecure:          o.Insecure,
		TLSCertFile:       cmp.Or(o.TLSCertFile, base.TLSCertFile),
		TLSClientCertFile: cmp.Or(o.TLSClientCertFile, base.TLSClientCertFile),
		TLSClientKeyFile:  cmp.Or(o.TLSClientKeyFile, base.TLSClientKeyFile),
		Headers:           base.Headers,
		Timeout:           cmp.Or(o.Timeout, base.Timeout),
		Compression:       cmp.Or(o.Compression, base.Compression),
		RetryEnabled:      base.RetryEnabled,
		RetryMaxAttempts:  base.RetryMaxAttempts,
	}
	if o.Headers != nil {
		out.Headers = maps.Clone(base.Headers)
		if out.Headers == nil {
			out.Headers = make(map[string]string, len(o.Headers))
		}
		maps.Copy(out.Headers, o.Headers)
	}
	if o.RetryMaxAttempts != 0 {
		out.RetryEnabled, out.RetryMaxAttempts = o.RetryEnabled, o.RetryMaxAttempts
	}
	return out
}

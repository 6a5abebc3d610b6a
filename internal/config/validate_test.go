package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"krsp-query/internal/schemafilter"
)

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:  DriverMySQL,
			MaxRows: DefaultMaxRows,
			Pool:    PoolConfig{MaxOpen: 4, MaxIdle: 2},
		},
		SchemaFilters: schemafilter.Config{AllowTables: []string{"*"}},
		Output:        OutputConfig{Format: "table"},
		Observability: ObservabilityConfig{
			TraceSampleRatio: 1,
			Logging:          LoggingConfig{Level: "warn", Format: "text"},
			OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
		},
	}
}

func hasErrorField(result *ValidationResult, field string) bool {
	for _, e := range result.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func hasWarningField(result *ValidationResult, field string) bool {
	for _, w := range result.Warnings {
		if w.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	assert.Empty(t, result.Error())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = DriverSQLite }, "database.path"},
		{"profile with host", func(c *Config) {
			c.Database.Profile = "krsp-aws"
			c.Database.Host = "db.example.org"
		}, "database.profile"},
		{"negative max rows", func(c *Config) { c.Database.MaxRows = -1 }, "database.max_rows"},
		{"negative query timeout", func(c *Config) { c.Database.QueryTimeout = -1 }, "database.query_timeout"},
		{"port range", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"pool max open", func(c *Config) { c.Database.Pool.MaxOpen = 0 }, "database.pool.max_open"},
		{"tls mode", func(c *Config) { c.Database.TLS.Mode = "always" }, "database.tls.mode"},
		{"tls verify without ca", func(c *Config) { c.Database.TLS.Mode = "verify-full" }, "database.tls.ca_file"},
		{"tls cert without key", func(c *Config) { c.Database.TLS.CertFile = "client.pem" }, "database.tls.cert_file"},
		{"bad glob", func(c *Config) { c.SchemaFilters.DenyTables = []string{"[bad"} }, "schema_filters.deny_tables"},
		{"empty column glob", func(c *Config) {
			c.SchemaFilters.DenyColumns = map[string][]string{"squirrel": {" "}}
		}, "schema_filters.deny_columns"},
		{"output format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "trace" }, "observability.logging.level"},
		{"log format", func(c *Config) { c.Observability.Logging.Format = "yaml" }, "observability.logging.format"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 1.5 }, "observability.trace_sample_ratio"},
		{"otlp protocol", func(c *Config) { c.Observability.OTLP.Protocol = "udp" }, "observability.otlp.protocol"},
		{"metrics addr", func(c *Config) {
			c.Observability.MetricsEnabled = true
			c.Observability.MetricsAddr = "9464"
		}, "observability.metrics_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			result := cfg.Validate()
			assert.True(t, hasErrorField(result, tt.field), "expected error on %s, got %v", tt.field, result.Errors)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"plain password", func(c *Config) { c.Database.Password = "pw" }, "database.password"},
		{"idle above open", func(c *Config) { c.Database.Pool.MaxIdle = 10 }, "database.pool.max_idle"},
		{"skip verify", func(c *Config) { c.Database.TLS.Mode = "skip-verify" }, "database.tls.mode"},
		{"metrics addr without metrics", func(c *Config) { c.Observability.MetricsAddr = ":9464" }, "observability.metrics_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), result.Error())
			assert.True(t, hasWarningField(result, tt.field))
		})
	}
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"slices"
	"strings"

	"krsp-query/internal/schemafilter"
)

// ValidationError is a fatal problem with one configuration key.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint == "" {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
}

// ValidationWarning is a non-fatal problem with one configuration key.
type ValidationWarning ValidationError

// ValidationResult collects every problem found by Validate. It is an error
// when it holds at least one ValidationError.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors reports whether any fatal problem was found.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

func (r *ValidationResult) Error() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warn(field, hint, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// oneOf fails field unless value is one of allowed. An empty string in
// allowed marks the key as optional.
func (r *ValidationResult) oneOf(field, what, value string, allowed ...string) {
	if slices.Contains(allowed, value) {
		return
	}
	named := slices.DeleteFunc(slices.Clone(allowed), func(s string) bool { return s == "" })
	r.fail(field, "valid values are: "+strings.Join(named, ", "), "invalid %s %q", what, value)
}

func (r *ValidationResult) glob(field, what, pattern string) {
	if strings.TrimSpace(pattern) == "" {
		r.fail(field, "", "%s cannot be empty", what)
		return
	}
	if _, err := path.Match(strings.ToLower(pattern), "x"); err != nil {
		r.fail(field, "", "invalid %s %q: %v", what, pattern, err)
	}
}

// Validate checks the whole configuration. Errors are fatal; warnings are
// for the caller to log.
func (c *Config) Validate() *ValidationResult {
	r := &ValidationResult{}
	c.Database.validate(r)
	validateFilters(r, c.SchemaFilters)
	r.oneOf("output.format", "output format", c.Output.Format, "table", "json", "csv", "markdown")
	c.Observability.validate(r)
	return r
}

func (d *DatabaseConfig) validate(r *ValidationResult) {
	r.oneOf("database.driver", "driver", d.Driver, "", DriverMySQL, DriverSQLite)
	if d.Driver == DriverSQLite {
		if strings.TrimSpace(d.Path) == "" {
			r.fail("database.path", "", "path is required for the sqlite driver")
		}
		if d.Profile != "" || d.Host != "" {
			r.warn("database.driver", "", "host and profile settings are ignored by the sqlite driver")
		}
	}

	if d.Profile != "" {
		if explicit := d.explicitCredentialFields(); len(explicit) > 0 {
			r.fail("database.profile", "use either a profile or explicit host/user/password, not both",
				"profile %q cannot be combined with %s", d.Profile, strings.Join(explicit, ", "))
		}
	}
	if d.Password != "" && d.PasswordFile == "" && !d.PasswordPrompt {
		r.warn("database.password", "prefer a profile, password_file or password_prompt", "password is set in plain configuration")
	}

	if d.Port < 0 || d.Port > 65535 {
		r.fail("database.port", "", "port %d is out of valid range (1-65535)", d.Port)
	}
	if d.MaxRows < 0 {
		r.fail("database.max_rows", "request unbounded results per query instead of disabling the cap", "max_rows cannot be negative")
	}
	if d.QueryTimeout < 0 {
		r.fail("database.query_timeout", "", "query_timeout cannot be negative")
	}
	if d.ConnectionTimeout < 0 {
		r.fail("database.connection_timeout", "", "connection_timeout cannot be negative")
	}

	switch {
	case d.Pool.MaxOpen < 1:
		r.fail("database.pool.max_open", "", "max_open must be at least 1")
	case d.Pool.MaxIdle < 0:
		r.fail("database.pool.max_idle", "", "max_idle cannot be negative")
	case d.Pool.MaxIdle > d.Pool.MaxOpen:
		r.warn("database.pool.max_idle", "the driver caps idle connections at max_open",
			"max_idle (%d) exceeds max_open (%d)", d.Pool.MaxIdle, d.Pool.MaxOpen)
	}

	tls := d.TLS
	r.oneOf("database.tls.mode", "TLS mode", tls.Mode, "", "off", "skip-verify", "verify-ca", "verify-full")
	if (tls.Mode == "verify-ca" || tls.Mode == "verify-full") && tls.CAFile == "" {
		r.fail("database.tls.ca_file", "", "ca_file is required for %s", tls.Mode)
	}
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		r.fail("database.tls.cert_file", "provide both cert_file and key_file, or neither",
			"client certificates need both cert_file and key_file")
	}
	if tls.Mode == "skip-verify" {
		r.warn("database.tls.mode", "use verify-ca or verify-full against the shared server",
			"skip-verify does not check the server certificate")
	}
}

func validateFilters(r *ValidationResult, f schemafilter.Config) {
	for _, p := range f.AllowTables {
		r.glob("schema_filters.allow_tables", "table glob", p)
	}
	for _, p := range f.DenyTables {
		r.glob("schema_filters.deny_tables", "table glob", p)
	}
	for field, m := range map[string]map[string][]string{
		"schema_filters.allow_columns": f.AllowColumns,
		"schema_filters.deny_columns":  f.DenyColumns,
	} {
		for table, cols := range m {
			r.glob(field, "table glob", table)
			for _, c := range cols {
				r.glob(field, fmt.Sprintf("column glob for %q", table), c)
			}
		}
	}
}

func (o *ObservabilityConfig) validate(r *ValidationResult) {
	r.oneOf("observability.logging.level", "log level", o.Logging.Level, "debug", "info", "warn", "error")
	r.oneOf("observability.logging.format", "log format", o.Logging.Format, "json", "text")
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		r.fail("observability.trace_sample_ratio", "", "trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio)
	}

	if o.MetricsAddr != "" {
		if !o.MetricsEnabled {
			r.warn("observability.metrics_addr", "set observability.metrics_enabled=true", "metrics_addr is set but metrics are disabled")
		} else if _, _, err := net.SplitHostPort(o.MetricsAddr); err != nil {
			r.fail("observability.metrics_addr", "", "invalid listen address %q: %v", o.MetricsAddr, err)
		}
	}

	o.OTLP.validate(r, "observability.otlp")
	if o.Traces != nil {
		o.Traces.validate(r, "observability.traces")
	}
	if o.Logs != nil {
		o.Logs.validate(r, "observability.logs")
	}
}

func (o *OTLPConfig) validate(r *ValidationResult, prefix string) {
	r.oneOf(prefix+".protocol", "OTLP protocol", o.Protocol, "", "grpc", "http/protobuf")
	r.oneOf(prefix+".compression", "OTLP compression", o.Compression, "", "none", "gzip")
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		r.fail(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}
	if o.RetryMaxAttempts < 0 {
		r.fail(prefix+".retry_max_attempts", "", "retry_max_attempts cannot be negative")
	}
}

// validOTLPEndpoint accepts host:port or an absolute URL.
func validOTLPEndpoint(endpoint string) bool {
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		return err == nil && u.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return endpoint != "" && err == nil
}

package config

import (
	"fmt"
	"io"
	"maps"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"

	"krsp-query/internal/errs"
)

// profileSettings holds the connection options read from one option-file group.
type profileSettings struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	TLSMode     string
	HasPort     bool
	HasDatabase bool
}

// optionFile is a parsed MySQL option file: group name -> key -> value.
type optionFile map[string]map[string]string

// Resolve returns a copy of d with profile settings and defaults applied.
//
// A profile is read from the option file's [client] group overlaid with the
// profile's own group, the same lookup order the mysql client uses. Explicit
// host, user or password settings alongside a profile are a conflict.
func (d DatabaseConfig) Resolve() (DatabaseConfig, error) {
	r := d
	if r.Driver == "" {
		r.Driver = DriverMySQL
	}
	if r.MaxRows == 0 {
		r.MaxRows = DefaultMaxRows
	}

	if r.Driver == DriverSQLite {
		if r.Profile != "" {
			return DatabaseConfig{}, fmt.Errorf("database.profile cannot be used with the sqlite driver")
		}
		if strings.TrimSpace(r.Path) == "" {
			return DatabaseConfig{}, fmt.Errorf("database.path is required for the sqlite driver")
		}
		// sqlite has a single unnamed schema; keep the label for errors and logs.
		if r.Schema == "" {
			r.Schema = DefaultSchema
		}
		return r, nil
	}

	if r.Profile != "" {
		if explicit := r.explicitCredentialFields(); len(explicit) > 0 {
			return DatabaseConfig{}, fmt.Errorf("database.profile %q with %s: %w",
				r.Profile, strings.Join(explicit, ", "), errs.ErrCredentialConflict)
		}

		path := r.OptionFile
		if path == "" {
			var err error
			if path, err = defaultOptionFilePath(); err != nil {
				return DatabaseConfig{}, err
			}
		}
		settings, err := loadProfile(path, r.Profile)
		if err != nil {
			return DatabaseConfig{}, err
		}
		r.Host = settings.Host
		r.User = settings.User
		r.Password = settings.Password
		if settings.HasPort && r.Port == 0 {
			r.Port = settings.Port
		}
		if settings.HasDatabase && r.Schema == "" {
			r.Schema = settings.Database
		}
		if settings.TLSMode != "" && r.TLS.Mode == "" {
			r.TLS.Mode = settings.TLSMode
		}
	}

	if r.Host == "" {
		r.Host = DefaultHost
	}
	if r.User == "" {
		if u, err := user.Current(); err == nil {
			r.User = u.Username
		}
	}
	if r.Schema == "" {
		r.Schema = DefaultSchema
	}
	return r, nil
}

func (d DatabaseConfig) explicitCredentialFields() []string {
	var fields []string
	if d.Host != "" {
		fields = append(fields, "database.host")
	}
	if d.User != "" {
		fields = append(fields, "database.user")
	}
	if d.Password != "" {
		fields = append(fields, "database.password")
	}
	return fields
}

func defaultOptionFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate option file: %w", err)
	}
	return filepath.Join(home, ".my.cnf"), nil
}

func loadProfile(path, profile string) (profileSettings, error) {
	var (
		raw []byte
		err error
	)
	if path == "@-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return profileSettings{}, fmt.Errorf("read option file: %w", err)
	}
	file, err := parseOptionFile(raw)
	if err != nil {
		return profileSettings{}, fmt.Errorf("option file %s: %w", path, err)
	}
	group := strings.ToLower(strings.TrimSpace(profile))
	if _, ok := file[group]; !ok {
		return profileSettings{}, fmt.Errorf("group [%s] in %s: %w", group, path, errs.ErrProfileNotFound)
	}
	return file.settings("client", group)
}

// optionFileOptions matches how the mysql client reads option files: '#'
// only starts a comment at the beginning of a line, bare names are flags, and
// '=' is the only delimiter.
var optionFileOptions = ini.LoadOptions{
	InsensitiveKeys:     true,
	IgnoreInlineComment: true,
	AllowBooleanKeys:    true,
	IgnoreContinuation:  true,
	KeyValueDelimiters:  "=",
}

// parseOptionFile reads every group of a my.cnf style file. Directives such
// as !include are ignored.
func parseOptionFile(raw []byte) (optionFile, error) {
	src, err := ini.LoadSources(optionFileOptions, raw)
	if err != nil {
		return nil, err
	}
	file := optionFile{}
	for _, sec := range src.Sections() {
		if sec.Name() == ini.DefaultSection {
			if len(sec.Keys()) > 0 {
				return nil, fmt.Errorf("option %q outside any [group]", sec.Keys()[0].Name())
			}
			continue
		}
		name := strings.ToLower(strings.TrimSpace(sec.Name()))
		if file[name] == nil {
			file[name] = map[string]string{}
		}
		for _, key := range sec.Keys() {
			k := key.Name()
			if strings.HasPrefix(k, "!") {
				continue
			}
			if strings.ContainsAny(k, " \t") {
				return nil, fmt.Errorf("[%s] %q: expected name = value or a bare flag", name, k)
			}
			// mysql treats '-' and '_' in option names alike.
			file[name][strings.ReplaceAll(k, "_", "-")] = key.Value()
		}
	}
	return file, nil
}

// optionSetters apply one recognized option to the settings. Unknown options
// are ignored.
var optionSetters = map[string]func(*profileSettings, string) error{
	"host":     func(s *profileSettings, v string) error { s.Host = v; return nil },
	"user":     func(s *profileSettings, v string) error { s.User = v; return nil },
	"password": func(s *profileSettings, v string) error { s.Password = v; return nil },
	"database": func(s *profileSettings, v string) error {
		s.Database, s.HasDatabase = v, true
		return nil
	},
	"port": func(s *profileSettings, v string) error {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("port %q is not a number", v)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("port %d is out of valid range (1-65535)", port)
		}
		s.Port, s.HasPort = port, true
		return nil
	},
	"ssl-mode": func(s *profileSettings, v string) error {
		mode, ok := sslModes[strings.ToUpper(strings.TrimSpace(v))]
		if !ok {
			return fmt.Errorf("unsupported ssl-mode %q", v)
		}
		s.TLSMode = mode
		return nil
	},
}

// sslModes maps mysql client ssl-mode values onto database.tls.mode.
var sslModes = map[string]string{
	"":                "",
	"DISABLED":        "off",
	"PREFERRED":       "skip-verify",
	"REQUIRED":        "skip-verify",
	"VERIFY_CA":       "verify-ca",
	"VERIFY_IDENTITY": "verify-full",
}

// settings merges groups in order, later groups winning, and interprets the
// connection options.
func (f optionFile) settings(groups ...string) (profileSettings, error) {
	merged := map[string]string{}
	for _, g := range groups {
		maps.Copy(merged, f[g])
	}
	var out profileSettings
	for key, value := range merged {
		set, ok := optionSetters[key]
		if !ok {
			continue
		}
		if err := set(&out, value); err != nil {
			return profileSettings{}, fmt.Errorf("option %s: %w", key, err)
		}
	}
	return out, nil
}

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KRSP"

// configSections are the top-level keys of Config. Flags outside them belong
// to the CLI and are never copied into viper.
var configSections = []string{"database.", "schema_filters.", "output.", "observability."}

// Load builds a Config from, highest precedence first: flags that were set on
// fs, KRSP_* environment variables (KRSP_DATABASE_MAX_ROWS for
// database.max_rows), the config file, and defaults. A password file or
// prompt is applied last and only when no password was given.
//
// fs may be nil, in which case only the file, environment and defaults apply.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			if isConfigKey(f.Name) {
				v.Set(f.Name, flagValue(f))
			}
		})
	}

	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if err := resolvePassword(v); err != nil {
		return nil, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		commaSeparatedHook(),
	))
	if err := v.UnmarshalExact(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// readConfigFile reads --config when given, otherwise the first krspq.yaml
// found in /etc/krspq, ~/.krspq or the working directory. Only an explicit
// path has to exist.
func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	var explicit string
	if fs != nil {
		explicit, _ = fs.GetString("config")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("krspq")
		v.SetConfigType("yaml")
		for _, dir := range []string{"/etc/krspq/", "$HOME/.krspq", "."} {
			v.AddConfigPath(dir)
		}
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case explicit != "":
		return fmt.Errorf("failed to read config file %q: %w", explicit, err)
	case errors.As(err, &notFound):
		return nil
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}
}

func isConfigKey(name string) bool {
	for _, section := range configSections {
		if strings.HasPrefix(name, section) {
			return true
		}
	}
	return false
}

// flagValue returns a set flag's value in a form the decoder accepts: slices
// stay slices and every scalar goes through its string form.
func flagValue(f *pflag.Flag) any {
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		return sv.GetSlice()
	}
	return f.Value.String()
}

// validateSingleStdinFileSource rejects configs where more than one file
// setting reads stdin ("@-"), since only one of them could get the data.
func validateSingleStdinFileSource(v *viper.Viper) error {
	var fromStdin []string
	for _, key := range []string{"database.option_file", "database.password_file"} {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			fromStdin = append(fromStdin, key)
		}
	}
	if len(fromStdin) > 1 {
		return fmt.Errorf("multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(fromStdin, ", "))
	}
	return nil
}

// commaSeparatedHook turns "a, b" from an env var or file into []string{"a", "b"}.
func commaSeparatedHook() mapstructure.DecodeHookFuncType {
	stringSlice := reflect.TypeOf([]string(nil))
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != stringSlice {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return parts, nil
	}
}

package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"
)

// resolvePassword fills database.password from password_file, then from an
// interactive prompt, when it is still empty.
func resolvePassword(v *viper.Viper) error {
	const key = "database.password"
	if v.GetString(key) != "" {
		return nil
	}
	if file := v.GetString("database.password_file"); file != "" {
		pwd, err := readSecretFile(file)
		if err != nil {
			return fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set(key, pwd)
		return nil
	}
	if v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set(key, pwd)
	}
	return nil
}

// readSecretFile reads a one-line secret; "@-" reads stdin.
func readSecretFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	return strings.TrimSpace(string(data)), err
}

// promptPassword reads a password from the terminal without echo. The prompt
// goes to stderr so it never mixes with results.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return string(pwd), err
}

package cli

import (
	"errors"

	"krsp-query/internal/catalog"
	"krsp-query/internal/errs"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitConnection   = 3
	ExitSchema       = 4
	ExitWriteRefused = 5
)

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, catalog.ErrUnknownEntry) || errors.Is(err, catalog.ErrInvalidArgument) {
		return ExitUsage
	}
	switch errs.Kind(err) {
	case "connection":
		return ExitConnection
	case "schema", "column", "ambiguous_join":
		return ExitSchema
	case "write_rejected":
		return ExitWriteRefused
	default:
		return ExitFailure
	}
}

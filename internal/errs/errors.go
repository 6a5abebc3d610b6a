// Package errs defines the error taxonomy shared by the query layer.
//
// Build-time errors (ColumnError, UnsupportedAggregateError, AmbiguousJoinError,
// SchemaError) are returned by plan construction. Execution-time errors
// (TranslationError, ExecutionError, ConnectionError) carry the generated
// query text so callers can diagnose failures without access to internals.
//
// Callers inspect errors with errors.As:
//
//	var colErr *errs.ColumnError
//	if errors.As(err, &colErr) {
//	    fmt.Println("available:", colErr.Available)
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandleClosed is returned when an operation is issued on a closed handle.
	ErrHandleClosed = errors.New("connection handle is closed")
	// ErrCredentialConflict is returned when both a profile and explicit credentials are configured.
	ErrCredentialConflict = errors.New("both a profile and explicit credentials were supplied")
	// ErrProfileNotFound is returned when a named profile has no group in the option file.
	ErrProfileNotFound = errors.New("profile not found")
)

// ConnectionError reports a failure to establish, authenticate or keep a session.
type ConnectionError struct {
	Op   string
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SchemaError reports a table absent from the handle's schema.
type SchemaError struct {
	Schema string
	Table  string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("table %q does not exist in schema %q", e.Table, e.Schema)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ColumnError reports a reference to a column that is not in a plan's output schema.
// Matching is case-sensitive; Available lists the names that were in scope.
type ColumnError struct {
	Op        string
	Column    string
	Available []string
}

func (e *ColumnError) Error() string {
	msg := fmt.Sprintf("%s: unknown column %q", e.Op, e.Column)
	if hint := caseHint(e.Column, e.Available); hint != "" {
		msg += fmt.Sprintf(" (did you mean %q? column names are case-sensitive)", hint)
	}
	return msg
}

func caseHint(name string, available []string) string {
	for _, candidate := range available {
		if candidate != name && strings.EqualFold(candidate, name) {
			return candidate
		}
	}
	return ""
}

// TranslationError reports a plan operation with no equivalent in the backing store's dialect.
// It is raised when the plan is translated for execution, not when it is built.
type TranslationError struct {
	Op      string
	Dialect string
	Detail  string
}

func (e *TranslationError) Error() string {
	if e.Dialect != "" {
		return fmt.Sprintf("%s: cannot translate for %s: %s", e.Op, e.Dialect, e.Detail)
	}
	return fmt.Sprintf("%s: cannot translate: %s", e.Op, e.Detail)
}

// UnsupportedAggregateError reports an aggregate function without a known translation.
type UnsupportedAggregateError struct {
	Output   string
	Function string
}

func (e *UnsupportedAggregateError) Error() string {
	return fmt.Sprintf("aggregate %q: function %q is not supported", e.Output, e.Function)
}

// KeyPair maps a left-side column to a right-side column in a join.
type KeyPair struct {
	Left  string
	Right string
}

func (k KeyPair) String() string {
	if k.Left == k.Right {
		return k.Left
	}
	return k.Left + " = " + k.Right
}

// AmbiguousJoinError reports a join whose keys could not be inferred from common column names.
// Suggestions come from declared foreign keys and are never applied automatically.
type AmbiguousJoinError struct {
	Left        string
	Right       string
	Suggestions []KeyPair
}

func (e *AmbiguousJoinError) Error() string {
	msg := fmt.Sprintf("join %s with %s: no common column names; pass explicit keys", e.Left, e.Right)
	if len(e.Suggestions) > 0 {
		parts := make([]string, len(e.Suggestions))
		for i, s := range e.Suggestions {
			parts[i] = s.String()
		}
		msg += fmt.Sprintf(" (declared foreign keys: %s)", strings.Join(parts, ", "))
	}
	return msg
}

// WriteRejectedError reports a literal query refused by the read-only guard. Nothing was executed.
type WriteRejectedError struct {
	Keyword string
	Reason  string
}

func (e *WriteRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("query rejected: %s", e.Reason)
	}
	return fmt.Sprintf("query rejected: %q statements are not read-only", e.Keyword)
}

// ExecutionError reports a failure raised by the backing store while running a query.
type ExecutionError struct {
	Op    string
	Query string
	Args  []any
	// Code is the server error number when the driver reports one.
	Code uint16
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: error %d: %v [query: %s]", e.Op, e.Code, e.Err, e.Query)
	}
	return fmt.Sprintf("%s: %v [query: %s]", e.Op, e.Err, e.Query)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsBuildError reports whether err was raised while constructing a plan.
func IsBuildError(err error) bool {
	var colErr *ColumnError
	var aggErr *UnsupportedAggregateError
	var joinErr *AmbiguousJoinError
	var schemaErr *SchemaError
	return errors.As(err, &colErr) || errors.As(err, &aggErr) ||
		errors.As(err, &joinErr) || errors.As(err, &schemaErr)
}

// Kind names the category of err for metric labels. It returns "" for nil
// and "other" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		connErr   *ConnectionError
		schemaErr *SchemaError
		colErr    *ColumnError
		transErr  *TranslationError
		aggErr    *UnsupportedAggregateError
		joinErr   *AmbiguousJoinError
		writeErr  *WriteRejectedError
		execErr   *ExecutionError
	)
	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.As(err, &colErr):
		return "column"
	case errors.As(err, &transErr):
		return "translation"
	case errors.As(err, &aggErr):
		return "unsupported_aggregate"
	case errors.As(err, &joinErr):
		return "ambiguous_join"
	case errors.As(err, &writeErr):
		return "write_rejected"
	case errors.As(err, &execErr):
		return "execution"
	default:
		return "other"
	}
}

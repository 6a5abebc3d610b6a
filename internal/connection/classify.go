package connection

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"

	"krsp-query/internal/errs"
)

// Server error numbers that mean the session itself is unusable.
const (
	erDBAccessDenied   = 1044
	erAccessDenied     = 1045
	erBadDB            = 1049
	erLocalConnection  = 2002
	erConnectionFailed = 2003
	erUnknownHost      = 2005
)

func (h *Handle) classify(op, query string, args []any, err error) error {
	if err == nil {
		return nil
	}
	var connErr *errs.ConnectionError
	var execErr *errs.ExecutionError
	if errors.As(err, &connErr) || errors.As(err, &execErr) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case erDBAccessDenied, erAccessDenied, erBadDB, erLocalConnection, erConnectionFailed, erUnknownHost:
			return &errs.ConnectionError{Op: op, Host: h.host, Err: err}
		}
		return &errs.ExecutionError{Op: op, Query: query, Args: args, Code: myErr.Number, Err: err}
	}

	if isConnectionLoss(err) {
		return &errs.ConnectionError{Op: op, Host: h.host, Err: err}
	}
	return &errs.ExecutionError{Op: op, Query: query, Args: args, Err: err}
}

func isConnectionLoss(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

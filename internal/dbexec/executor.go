// Package dbexec sits between a connection handle and database/sql. A handle
// keeps two executors: one that runs on any pooled connection and one that
// pins a connection inside a read-only transaction for caller-supplied text.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Rows is the subset of *sql.Rows that result readers use.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
	Err() error
	Close() error
}

// QueryExecutor runs one statement and hands back its rows.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

var errNoPool = fmt.Errorf("dbexec: no database: %w", sql.ErrConnDone)

// Pool runs statements on whichever pooled connection is free.
type Pool struct {
	db *sql.DB
}

// NewPool returns an executor over db.
func NewPool(db *sql.DB) *Pool { return &Pool{db: db} }

func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if p.db == nil {
		return nil, errNoPool
	}
	return p.db.QueryContext(ctx, query, args...)
}

// ReadOnly pins a connection per statement and runs it inside
// START TRANSACTION READ ONLY. Closing the rows rolls back and returns the
// connection to the pool.
type ReadOnly struct {
	db *sql.DB
}

// NewReadOnly returns a read-only executor over db.
func NewReadOnly(db *sql.DB) *ReadOnly { return &ReadOnly{db: db} }

func (r *ReadOnly) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if r.db == nil {
		return nil, errNoPool
	}
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbexec: pin connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dbexec: begin read-only transaction: %w", err)
	}
	pinned := &pinnedRows{tx: tx, conn: conn}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		pinned.release()
		return nil, err
	}
	pinned.Rows = rows
	return pinned, nil
}

type pinnedRows struct {
	*sql.Rows
	tx   *sql.Tx
	conn *sql.Conn
	once sync.Once
}

func (p *pinnedRows) release() {
	p.once.Do(func() {
		_ = p.tx.Rollback()
		_ = p.conn.Close()
	})
}

func (p *pinnedRows) Close() error {
	defer p.release()
	return p.Rows.Close()
}

// Package connection provides the connection handle every query operation is
// issued through.
//
// A Handle exclusively owns its *sql.DB pool together with the safety settings
// queries run under: the default schema and the max-rows cap. Handles share no
// state with each other. Once closed, every operation on a handle fails with a
// ConnectionError wrapping errs.ErrHandleClosed.
package connection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"krsp-query/internal/config"
	"krsp-query/internal/dbexec"
	"krsp-query/internal/errs"
	"krsp-query/internal/introspection"
	"krsp-query/internal/logging"
	"krsp-query/internal/observability"
	"krsp-query/internal/schemafilter"
	"krsp-query/internal/sqlutil"
)

// Handle is a live connection to the krsp database.
type Handle struct {
	id           string
	db           *sql.DB
	executor     dbexec.QueryExecutor
	readOnly     dbexec.QueryExecutor
	dialect      sqlutil.Dialect
	schema       string
	host         string
	maxRows      int
	queryTimeout time.Duration
	filters      schemafilter.Config
	logger       *logging.Logger
	metrics      *observability.QueryMetrics
	statsReg     interface{ Unregister() error }

	mu        sync.Mutex
	closed    bool
	tables    map[string]introspection.Table
	tableList []introspection.TableInfo
}

// Connect resolves cfg, opens the pool and pings the server once.
//
// Supplying a profile together with explicit host, user or password fails with
// a ConnectionError wrapping errs.ErrCredentialConflict. Leaving both out
// connects to the local server without a password. There is no retry.
func Connect(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Handle, error) {
	o := buildOptions(opts)

	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, &errs.ConnectionError{Op: "connect", Err: err}
	}
	dialect, err := sqlutil.ParseDialect(resolved.Driver)
	if err != nil {
		return nil, &errs.ConnectionError{Op: "connect", Err: err}
	}

	var (
		target source
		host   string
	)
	switch dialect {
	case sqlutil.SQLite:
		target, host = source{driverName: "sqlite", dsn: resolved.SQLiteDSN()}, resolved.Path
	default:
		host = resolved.Address()
		mc, err := resolved.MySQLConfig()
		if err != nil {
			return nil, &errs.ConnectionError{Op: "connect", Host: host, Err: err}
		}
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, &errs.ConnectionError{Op: "connect", Host: host, Err: err}
		}
		target = source{connector: connector}
	}

	db, statsReg, err := openDB(target, dialect, o)
	if err != nil {
		return nil, &errs.ConnectionError{Op: "connect", Host: host, Err: err}
	}
	configurePool(db, dialect, resolved.Pool)

	pingCtx := ctx
	if resolved.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, resolved.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		if statsReg != nil {
			_ = statsReg.Unregister()
		}
		_ = db.Close()
		o.metrics.RecordConnectFailure(ctx, dialect.String())
		return nil, &errs.ConnectionError{Op: "connect", Host: host, Err: err}
	}

	if o.schema == "" {
		o.schema = resolved.Schema
	}
	if o.maxRows == 0 {
		o.maxRows = resolved.MaxRows
	}
	if o.queryTimeout == 0 {
		o.queryTimeout = resolved.QueryTimeout
	}

	h := newHandle(db, dialect, o)
	h.host = host
	h.statsReg = statsReg
	h.logger.Info("connected",
		slog.String("db.system", dialect.String()),
		slog.String("host", host),
		slog.String("schema", h.schema),
		slog.Int("max_rows", h.maxRows),
	)
	return h, nil
}

// Attach wraps an existing pool in a handle. The handle takes ownership of db
// and closes it on Close. Without WithSchema and WithMaxRows the defaults
// "krsp" and 100000 apply.
func Attach(db *sql.DB, dialect sqlutil.Dialect, opts ...Option) *Handle {
	return newHandle(db, dialect, buildOptions(opts))
}

func newHandle(db *sql.DB, dialect sqlutil.Dialect, o options) *Handle {
	if o.schema == "" {
		o.schema = config.DefaultSchema
	}
	if o.maxRows == 0 {
		o.maxRows = config.DefaultMaxRows
	}

	id := uuid.NewString()
	h := &Handle{
		id:           id,
		db:           db,
		executor:     dbexec.NewPool(db),
		dialect:      dialect,
		schema:       o.schema,
		maxRows:      o.maxRows,
		queryTimeout: o.queryTimeout,
		filters:      o.filters,
		logger:       o.logger.WithFields(slog.String("handle_id", id)),
		metrics:      o.metrics,
		tables:       make(map[string]introspection.Table),
	}
	// sqlite snapshots are opened read-only; mysql enforces it per transaction.
	if dialect == sqlutil.SQLite {
		h.readOnly = h.executor
	} else {
		h.readOnly = dbexec.NewReadOnly(db)
	}
	return h
}

// source is either a ready connector (mysql) or a registered driver name
// with its DSN (sqlite).
type source struct {
	connector  driver.Connector
	driverName string
	dsn        string
}

func openDB(src source, dialect sqlutil.Dialect, o options) (*sql.DB, interface{ Unregister() error }, error) {
	if !o.instrumentation.enabled() {
		if src.connector != nil {
			return sql.OpenDB(src.connector), nil, nil
		}
		db, err := sql.Open(src.driverName, src.dsn)
		return db, nil, err
	}

	system := semconv.DBSystemMySQL
	if dialect == sqlutil.SQLite {
		system = semconv.DBSystemKey.String("sqlite")
	}
	otelOpts := []otelsql.Option{otelsql.WithAttributes(system)}
	if o.instrumentation.Tracing {
		otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		if o.instrumentation.SQLCommenter {
			otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
		}
	}

	var db *sql.DB
	if src.connector != nil {
		db = otelsql.OpenDB(src.connector, otelOpts...)
	} else {
		var err error
		if db, err = otelsql.Open(src.driverName, src.dsn, otelOpts...); err != nil {
			return nil, nil, err
		}
	}

	var statsReg interface{ Unregister() error }
	if o.instrumentation.Metrics {
		var err error
		statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			o.logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			statsReg = nil
		}
	}
	return db, statsReg, nil
}

func configurePool(db *sql.DB, dialect sqlutil.Dialect, pool config.PoolConfig) {
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 && dialect == sqlutil.MySQL {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
}

// WithConnection connects, runs body and closes the handle on every exit path,
// including a panic inside body. A close failure is joined with body's error.
func WithConnection(ctx context.Context, cfg config.DatabaseConfig, body func(context.Context, *Handle) error, opts ...Option) (err error) {
	h, err := Connect(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return body(ctx, h)
}

// Close releases the pool. Closing a closed handle is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.tables = nil
	h.tableList = nil
	h.mu.Unlock()

	var closeErr error
	if h.statsReg != nil {
		closeErr = h.statsReg.Unregister()
	}
	if h.db != nil {
		closeErr = errors.Join(closeErr, h.db.Close())
	}
	h.logger.Debug("connection closed")
	return closeErr
}

// IsClosed reports whether Close has been called.
func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) checkOpen(op string) error {
	if h.IsClosed() {
		return &errs.ConnectionError{Op: op, Host: h.host, Err: errs.ErrHandleClosed}
	}
	return nil
}

// ID identifies the handle in logs.
func (h *Handle) ID() string { return h.id }

// Dialect is the backing store's SQL dialect.
func (h *Handle) Dialect() sqlutil.Dialect { return h.dialect }

// Schema is the default schema tables are resolved in.
func (h *Handle) Schema() string { return h.schema }

// Host is the address or file the handle is connected to. Empty for attached pools.
func (h *Handle) Host() string { return h.host }

// MaxRows is the row cap applied when a caller does not pass a limit.
func (h *Handle) MaxRows() int { return h.maxRows }

// Logger returns the handle's logger.
func (h *Handle) Logger() *logging.Logger { return h.logger }

// Metrics returns the query metrics, or nil when metrics are disabled.
func (h *Handle) Metrics() *observability.QueryMetrics { return h.metrics }

// Query runs a statement on the pool. Failures are classified into
// ExecutionError or ConnectionError carrying the query text.
func (h *Handle) Query(ctx context.Context, op, query string, args ...any) (dbexec.Rows, error) {
	return h.run(ctx, h.executor, op, query, args)
}

// QueryReadOnly runs a statement the server itself must treat as read-only:
// inside a read-only transaction on mysql, on the read-only file for sqlite.
func (h *Handle) QueryReadOnly(ctx context.Context, op, query string, args ...any) (dbexec.Rows, error) {
	return h.run(ctx, h.readOnly, op, query, args)
}

func (h *Handle) run(ctx context.Context, executor dbexec.QueryExecutor, op, query string, args []any) (dbexec.Rows, error) {
	if err := h.checkOpen(op); err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if h.queryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
	}
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, h.classify(op, query, args, err)
	}
	return &timeoutRows{Rows: rows, cancel: cancel}, nil
}

// timeoutRows releases the query deadline once the caller is done reading.
type timeoutRows struct {
	dbexec.Rows
	cancel context.CancelFunc
}

func (r *timeoutRows) Close() error {
	err := r.Rows.Close()
	r.cancel()
	return err
}

// Classify maps a driver error raised while reading rows to the error taxonomy.
func (h *Handle) Classify(op, query string, args []any, err error) error {
	return h.classify(op, query, args, err)
}

// Tables lists the tables of the handle's schema that pass the schema filters.
func (h *Handle) Tables(ctx context.Context) ([]introspection.TableInfo, error) {
	if err := h.checkOpen("tables"); err != nil {
		return nil, err
	}

	h.mu.Lock()
	cached := h.tableList
	h.mu.Unlock()
	if cached != nil {
		h.metrics.RecordMetadataLookup(ctx, true)
		return cached, nil
	}

	tables, err := introspection.ListTables(ctx, h.db, h.dialect, h.schema)
	if err != nil {
		return nil, h.classify("tables", "", nil, err)
	}
	tables = schemafilter.FilterTables(tables, h.filters)
	if tables == nil {
		tables = []introspection.TableInfo{}
	}
	h.metrics.RecordMetadataLookup(ctx, false)

	h.mu.Lock()
	if !h.closed {
		h.tableList = tables
	}
	h.mu.Unlock()
	return tables, nil
}

// DescribeTable returns the metadata of one table, read once per handle.
//
// The name is matched by exact case. An unknown or filtered-out table fails
// with a SchemaError.
func (h *Handle) DescribeTable(ctx context.Context, name string) (introspection.Table, error) {
	if err := h.checkOpen("describe"); err != nil {
		return introspection.Table{}, err
	}

	h.mu.Lock()
	table, ok := h.tables[name]
	h.mu.Unlock()
	if ok {
		h.metrics.RecordMetadataLookup(ctx, true)
		return table, nil
	}

	described, err := introspection.DescribeTable(ctx, h.db, h.dialect, h.schema, name)
	if errors.Is(err, introspection.ErrTableNotFound) {
		return introspection.Table{}, &errs.SchemaError{Schema: h.schema, Table: name}
	}
	if err != nil {
		return introspection.Table{}, h.classify("describe", "", nil, err)
	}
	h.metrics.RecordMetadataLookup(ctx, false)

	if !schemafilter.TableAllowed(introspection.TableInfo{Name: described.Name, IsView: described.IsView}, h.filters) {
		return introspection.Table{}, &errs.SchemaError{Schema: h.schema, Table: name}
	}
	table, ok = schemafilter.FilterTable(*described, h.filters)
	if !ok {
		return introspection.Table{}, &errs.SchemaError{Schema: h.schema, Table: name,
			Err: fmt.Errorf("every column is excluded by schema filters")}
	}

	h.mu.Lock()
	if !h.closed {
		h.tables[name] = table
	}
	h.mu.Unlock()
	h.logger.Debug("table metadata loaded", slog.String("table", name), slog.Int("columns", len(table.Columns)))
	return table, nil
}

// Snapshot introspects every visible table of the schema with its columns.
// It bypasses the per-table cache.
func (h *Handle) Snapshot(ctx context.Context) (*introspection.Schema, error) {
	if err := h.checkOpen("snapshot"); err != nil {
		return nil, err
	}
	schema, err := introspection.ReadSchema(ctx, h.db, h.dialect, h.schema)
	if err != nil {
		return nil, h.classify("snapshot", "", nil, err)
	}
	schemafilter.Apply(schema, h.filters)
	return schema, nil
}

// SpanAttributes describes the handle on trace spans.
func (h *Handle) SpanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", h.dialect.String()),
		attribute.String("db.name", h.schema),
		attribute.String("krsp.handle_id", h.id),
	}
}

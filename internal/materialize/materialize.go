// Package materialize executes query plans against their connection handle and
// returns in-memory result tables.
//
// Every collect translates the whole plan into one statement and runs it
// exactly once. Results are capped at a row limit; a capped result is flagged
// Truncated and a warning is logged, never an error.
package materialize

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"krsp-query/internal/dbexec"
	"krsp-query/internal/errs"
	"krsp-query/internal/logging"
	"krsp-query/internal/observability"
	"krsp-query/internal/planner"
	"krsp-query/internal/resultset"
)

// RowLimit caps the number of rows a collect returns.
type RowLimit int

// Unbounded returns every row the query produces.
const Unbounded RowLimit = -1

// Executor is the part of a connection handle a collect runs through.
// *connection.Handle implements it.
type Executor interface {
	planner.Source
	MaxRows() int
	Query(ctx context.Context, op, query string, args ...any) (dbexec.Rows, error)
	Classify(op, query string, args []any, err error) error
	Logger() *logging.Logger
	Metrics() *observability.QueryMetrics
	SpanAttributes() []attribute.KeyValue
}

// Option adjusts how a collect is recorded.
type Option func(*settings)

type settings struct {
	operation string
	attrs     []any
}

// WithOperation records the collect under op in metrics instead of "collect".
func WithOperation(op string) Option {
	return func(s *settings) {
		s.operation = op
	}
}

// WithLogFields adds key/value pairs to every log record of the collect.
func WithLogFields(fields ...any) Option {
	return func(s *settings) {
		s.attrs = append(s.attrs, fields...)
	}
}

// Collect materializes plan under its handle's max-rows setting.
func Collect(ctx context.Context, plan *planner.Plan, opts ...Option) (*resultset.Table, error) {
	exec, err := executor(plan)
	if err != nil {
		return nil, err
	}
	return collect(ctx, exec, plan, RowLimit(exec.MaxRows()), buildSettings(opts))
}

// CollectLimit materializes plan, returning at most limit rows. Unbounded
// disables the cap. Other negative limits are rejected.
func CollectLimit(ctx context.Context, plan *planner.Plan, limit RowLimit, opts ...Option) (*resultset.Table, error) {
	if limit < Unbounded {
		return nil, fmt.Errorf("collect: invalid row limit %d", limit)
	}
	exec, err := executor(plan)
	if err != nil {
		return nil, err
	}
	return collect(ctx, exec, plan, limit, buildSettings(opts))
}

func buildSettings(opts []Option) settings {
	s := settings{operation: observability.OpCollect}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func executor(plan *planner.Plan) (Executor, error) {
	if plan == nil {
		return nil, fmt.Errorf("collect: nil plan")
	}
	exec, ok := plan.Source().(Executor)
	if !ok {
		return nil, fmt.Errorf("collect: plan source %T cannot execute queries", plan.Source())
	}
	return exec, nil
}

func collect(ctx context.Context, exec Executor, plan *planner.Plan, limit RowLimit, cfg settings) (table *resultset.Table, err error) {
	op := cfg.operation

	queryID := uuid.NewString()
	logger := exec.Logger().WithQueryID(queryID)
	if len(cfg.attrs) > 0 {
		logger = logger.WithFields(cfg.attrs...)
	}

	ctx, span := startSpan(ctx, "krsp."+op, exec, attribute.String("krsp.plan", plan.String()), attribute.Int("krsp.row_limit", int(limit)))
	defer func() { finishSpan(span, table, err) }()

	// One extra row tells a capped result apart from one that fits exactly.
	fetch := planner.NoLimit
	if limit != Unbounded {
		fetch = int(limit) + 1
	}
	query, err := plan.Compile(fetch)
	if err != nil {
		exec.Metrics().RecordQuery(ctx, op, exec.Dialect().String(), 0, 0, errs.Kind(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("db.statement", query.SQL))
	logger.Debug("collecting plan", "plan", plan.String(), "sql", query.SQL, "row_limit", int(limit))

	metrics := exec.Metrics()
	metrics.IncrementActiveQueries(ctx)
	defer metrics.DecrementActiveQueries(ctx)
	start := time.Now()

	table, err = run(ctx, exec, op, plan, query, limit)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordQuery(ctx, op, exec.Dialect().String(), duration, 0, errs.Kind(err))
		logger.Error("collect failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	metrics.RecordQuery(ctx, op, exec.Dialect().String(), duration, table.Len(), "")
	if table.Truncated {
		metrics.RecordTruncation(ctx, op, int(limit))
		logger.Warn("result truncated at row limit",
			"row_limit", int(limit),
			"plan", plan.String(),
		)
	}
	logger.Debug("collect finished", "rows", table.Len(), "duration_ms", duration.Milliseconds())
	return table, nil
}

func run(ctx context.Context, exec Executor, op string, plan *planner.Plan, query planner.SQLQuery, limit RowLimit) (*resultset.Table, error) {
	rows, err := exec.Query(ctx, op, query.SQL, query.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := plan.Fields()
	columns := make([]resultset.Column, len(fields))
	for i, f := range fields {
		columns[i] = resultset.Column{Name: f.Name, DatabaseType: f.DatabaseType, Category: f.Category}
	}

	table, err := resultset.Read(rows, int(limit), columns)
	if err != nil {
		return nil, exec.Classify(op, query.SQL, query.Args, err)
	}
	table.Query = query.SQL
	table.Args = query.Args
	return table, nil
}

func startSpan(ctx context.Context, name string, exec Executor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("krsp-query/materialize").Start(ctx, name)
	span.SetAttributes(exec.SpanAttributes()...)
	span.SetAttributes(attrs...)
	return ctx, span
}

func finishSpan(span trace.Span, table *resultset.Table, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if table != nil {
		span.SetAttributes(
			attribute.Int("krsp.rows", table.Len()),
			attribute.Bool("krsp.truncated", table.Truncated),
		)
	}
	span.End()
}

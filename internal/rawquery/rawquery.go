// Package rawquery runs literal SQL text typed by a user against a connection
// handle, refusing anything that does not start like a read-only statement.
package rawquery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"krsp-query/internal/dbexec"
	"krsp-query/internal/errs"
	"krsp-query/internal/logging"
	"krsp-query/internal/observability"
	"krsp-query/internal/resultset"
	"krsp-query/internal/sqlutil"
)

// Executor is the part of a connection handle literal queries run through.
// *connection.Handle implements it.
type Executor interface {
	Dialect() sqlutil.Dialect
	MaxRows() int
	QueryReadOnly(ctx context.Context, op, query string, args ...any) (dbexec.Rows, error)
	Classify(op, query string, args []any, err error) error
	Logger() *logging.Logger
	Metrics() *observability.QueryMetrics
	SpanAttributes() []attribute.KeyValue
}

// ExecuteReadOnly checks text with Check and runs it once. Rejected text
// never reaches the database. At most the handle's max rows are read; the
// result is flagged Truncated when more were available.
//
// On mysql the statement runs inside a read-only transaction, so the server
// refuses writes the keyword check cannot see.
func ExecuteReadOnly(ctx context.Context, h Executor, text string) (*resultset.Table, error) {
	return ExecuteReadOnlyLimit(ctx, h, text, h.MaxRows())
}

// ExecuteReadOnlyLimit is ExecuteReadOnly with an explicit row cap. A
// negative limit reads every row.
func ExecuteReadOnlyLimit(ctx context.Context, h Executor, text string, limit int) (table *resultset.Table, err error) {
	const op = observability.OpRawQuery

	queryID := uuid.NewString()
	logger := h.Logger().WithQueryID(queryID)

	ctx, span := otel.Tracer("krsp-query/rawquery").Start(ctx, "krsp.raw_query")
	span.SetAttributes(h.SpanAttributes()...)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("krsp.rows", table.Len()), attribute.Bool("krsp.truncated", table.Truncated))
		}
		span.End()
	}()

	stmt, err := Check(text)
	if err != nil {
		keyword := ""
		var rejected *errs.WriteRejectedError
		if errors.As(err, &rejected) {
			keyword = rejected.Keyword
		}
		h.Metrics().RecordWriteRejected(ctx, keyword)
		logger.Warn("literal query rejected", "keyword", keyword, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("db.statement", stmt.Text), attribute.String("krsp.keyword", stmt.Keyword))

	metrics := h.Metrics()
	metrics.IncrementActiveQueries(ctx)
	defer metrics.DecrementActiveQueries(ctx)
	start := time.Now()

	table, err = run(ctx, h, stmt.Text, limit)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordQuery(ctx, op, h.Dialect().String(), duration, 0, errs.Kind(err))
		logger.Error("literal query failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	metrics.RecordQuery(ctx, op, h.Dialect().String(), duration, table.Len(), "")
	if table.Truncated {
		metrics.RecordTruncation(ctx, op, table.Limit)
		logger.Warn("result truncated at row limit", "row_limit", table.Limit)
	}
	logger.Debug("literal query finished", "keyword", stmt.Keyword, "rows", table.Len(), "duration_ms", duration.Milliseconds())
	return table, nil
}

func run(ctx context.Context, h Executor, query string, limit int) (*resultset.Table, error) {
	const op = observability.OpRawQuery

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, err := h.QueryReadOnly(ctx, op, query)
	if err != nil {
		return nil, err
	}

	table, err := resultset.Read(rows, limit, nil)
	if err == nil && table.Truncated {
		// Closing a mysql result set reads the unread rows off the wire;
		// cancelling first drops the connection instead.
		cancel()
	}
	_ = rows.Close()
	if err != nil {
		return nil, h.Classify(op, query, nil, err)
	}
	table.Query = query
	return table, nil
}

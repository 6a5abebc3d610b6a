package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Operation names recorded on query metrics.
const (
	OpCollect  = "collect"
	OpRawQuery = "raw_query"
	OpCatalog  = "catalog"
)

// QueryMetrics holds metrics for materialized and raw queries.
type QueryMetrics struct {
	queryDuration  metric.Float64Histogram
	queryCounter   metric.Int64Counter
	errorCounter   metric.Int64Counter
	activeQueries  metric.Int64UpDownCounter
	rowsReturned   metric.Int64Histogram
	truncations    metric.Int64Counter
	writeRejected  metric.Int64Counter
	metadataLoads  metric.Int64Counter
	metadataHits   metric.Int64Counter
	connectsFailed metric.Int64Counter
}

// instruments creates instruments on one meter and keeps the first error, so
// InitQueryMetrics can declare everything before checking.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.keep(name, err)
	return c
}

func (in *instruments) keep(name string, err error) {
	if err != nil && in.err == nil {
		in.err = fmt.Errorf("instrument %s: %w", name, err)
	}
}

// InitQueryMetrics creates the query instruments on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	in := &instruments{meter: otel.Meter("krsp-query")}
	m := &QueryMetrics{
		queryCounter:   in.counter("krsp.queries.total", "Queries executed"),
		errorCounter:   in.counter("krsp.query.errors.total", "Failed queries by error kind"),
		truncations:    in.counter("krsp.query.truncated.total", "Results cut off at the row limit"),
		writeRejected:  in.counter("krsp.raw_query.rejected.total", "Literal queries refused by the read-only guard"),
		metadataLoads:  in.counter("krsp.metadata.loads.total", "Table metadata lookups that reached the database"),
		metadataHits:   in.counter("krsp.metadata.cache_hits.total", "Table metadata lookups served from the handle cache"),
		connectsFailed: in.counter("krsp.connect.failures.total", "Failed connection attempts"),
	}

	var err error
	m.queryDuration, err = in.meter.Float64Histogram("krsp.query.duration",
		metric.WithDescription("Query wall time"), metric.WithUnit("ms"))
	in.keep("krsp.query.duration", err)
	m.rowsReturned, err = in.meter.Int64Histogram("krsp.query.rows",
		metric.WithDescription("Rows handed back per query"), metric.WithUnit("{row}"))
	in.keep("krsp.query.rows", err)
	m.activeQueries, err = in.meter.Int64UpDownCounter("krsp.queries.active",
		metric.WithDescription("Queries in flight"))
	in.keep("krsp.queries.active", err)

	if in.err != nil {
		return nil, in.err
	}
	return m, nil
}

// RecordQuery records a finished query with its duration, row count and outcome.
// errorKind is empty for successful queries. A nil receiver records nothing.
func (m *QueryMetrics) RecordQuery(ctx context.Context, operation, dialect string, duration time.Duration, rows int, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("db.system", dialect),
		attribute.Bool("has_error", errorKind != ""),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("error_kind", errorKind),
		))
		return
	}
	m.rowsReturned.Record(ctx, int64(rows), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordTruncation counts a result cut off at the row limit.
func (m *QueryMetrics) RecordTruncation(ctx context.Context, operation string, limit int) {
	if m == nil {
		return
	}
	m.truncations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("row_limit", limit),
	))
}

// RecordWriteRejected counts a literal query refused by the read-only guard.
func (m *QueryMetrics) RecordWriteRejected(ctx context.Context, keyword string) {
	if m == nil {
		return
	}
	m.writeRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("keyword", keyword),
	))
}

// RecordMetadataLookup counts a table metadata lookup as a cache hit or a load.
func (m *QueryMetrics) RecordMetadataLookup(ctx context.Context, cached bool) {
	if m == nil {
		return
	}
	if cached {
		m.metadataHits.Add(ctx, 1)
		return
	}
	m.metadataLoads.Add(ctx, 1)
}

// RecordConnectFailure counts a failed connect attempt.
func (m *QueryMetrics) RecordConnectFailure(ctx context.Context, dialect string) {
	if m == nil {
		return
	}
	m.connectsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("db.system", dialect),
	))
}

// IncrementActiveQueries marks a query as started.
func (m *QueryMetrics) IncrementActiveQueries(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries marks a query as finished.
func (m *QueryMetrics) DecrementActiveQueries(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeQueries.Add(ctx, -1)
}

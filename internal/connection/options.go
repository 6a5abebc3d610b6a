package connection

import (
	"time"

	"krsp-query/internal/logging"
	"krsp-query/internal/observability"
	"krsp-query/internal/schemafilter"
)

// Option configures a Handle.
type Option func(*options)

type options struct {
	logger          *logging.Logger
	metrics         *observability.QueryMetrics
	filters         schemafilter.Config
	instrumentation Instrumentation
	schema          string
	maxRows         int
	queryTimeout    time.Duration
}

// Instrumentation selects the otelsql wrapping applied to the pool.
type Instrumentation struct {
	Tracing      bool
	Metrics      bool
	SQLCommenter bool
}

func (i Instrumentation) enabled() bool {
	return i.Tracing || i.Metrics
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the handle's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records query, metadata and connect metrics.
func WithMetrics(metrics *observability.QueryMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithSchemaFilters hides tables and columns from every lookup on the handle.
func WithSchemaFilters(filters schemafilter.Config) Option {
	return func(o *options) {
		o.filters = filters
	}
}

// WithInstrumentation wraps the pool in otelsql spans and stats metrics.
func WithInstrumentation(inst Instrumentation) Option {
	return func(o *options) {
		o.instrumentation = inst
	}
}

// WithSchema overrides the resolved default schema.
func WithSchema(schema string) Option {
	return func(o *options) {
		o.schema = schema
	}
}

// WithMaxRows overrides the resolved row cap.
func WithMaxRows(maxRows int) Option {
	return func(o *options) {
		o.maxRows = maxRows
	}
}

// WithQueryTimeout bounds each query issued through the handle.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.queryTimeout = timeout
	}
}

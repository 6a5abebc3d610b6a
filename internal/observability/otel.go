// Package observability wires OpenTelemetry for krspq. Metrics go to a
// Prometheus registry; traces and logs are pushed to an OTLP collector.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config describes the process to the telemetry backends.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

func (c Config) resource() (*resource.Resource, error) {
	// Empty schema URL so the merge with resource.Default() never conflicts.
	own := resource.NewWithAttributes("",
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironment(c.Environment),
	)
	res, err := resource.Merge(resource.Default(), own)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

// stopTimeout bounds how long a provider may spend flushing on shutdown.
const stopTimeout = 5 * time.Second

func stop(ctx context.Context, logger *slog.Logger, kind string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error("otel provider shutdown failed", slog.String("provider", kind), slog.String("error", err.Error()))
		return fmt.Errorf("shutdown %s provider: %w", kind, err)
	}
	logger.Debug("otel provider stopped", slog.String("provider", kind))
	return nil
}

// MeterProvider is the global meter provider and the Prometheus exporter it
// reads into.
type MeterProvider struct {
	provider *metric.MeterProvider
	exporter *prometheus.Exporter
}

// InitMeterProvider installs a global meter provider that exposes every
// instrument through the default Prometheus registry.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := &MeterProvider{
		provider: metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(exporter)),
		exporter: exporter,
	}
	otel.SetMeterProvider(mp.provider)
	return mp, nil
}

// Exporter returns the Prometheus reader backing the provider.
func (mp *MeterProvider) Exporter() *prometheus.Exporter { return mp.exporter }

// Shutdown stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return stop(ctx, logger, "meter", mp.provider.Shutdown)
}

// TracerProvider is the global tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider installs a global tracer provider batching spans to the
// configured OTLP endpoint.
func InitTracerProvider(cfg Config) (*TracerProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	target, err := newOTLPTarget(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}
	exporter, err := target.spanExporter(context.Background())
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	tp := &TracerProvider{provider: sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(samplerFor(cfg.TraceSampleRatio)),
	)}
	otel.SetTracerProvider(tp.provider)
	return tp, nil
}

// samplerFor samples nothing at 0, everything at 1, and in between follows
// the parent's decision when there is one.
func samplerFor(ratio float64) sdktrace.Sampler {
	if ratio <= 0 {
		return sdktrace.NeverSample()
	}
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return stop(ctx, logger, "tracer", tp.provider.Shutdown)
}

// LoggerProvider batches log records to an OTLP endpoint. It is not
// installed globally; logging.Config takes it explicitly.
type LoggerProvider struct {
	provider *sdklog.LoggerProvider
}

// InitLoggerProvider builds a logger provider for the configured endpoint.
func InitLoggerProvider(cfg Config) (*LoggerProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	target, err := newOTLPTarget(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}
	exporter, err := target.logExporter(context.Background())
	if err != nil {
		return nil, fmt.Errorf("otlp log exporter: %w", err)
	}
	return &LoggerProvider{provider: sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)}, nil
}

// Provider exposes the SDK provider for the slog bridge.
func (lp *LoggerProvider) Provider() *sdklog.LoggerProvider { return lp.provider }

// Shutdown flushes pending records.
func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return stop(ctx, logger, "logger", lp.provider.Shutdown)
}

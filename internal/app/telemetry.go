package app

import (
	"context"
	"io"
	"log/slog"

	"krsp-query/internal/config"
	"krsp-query/internal/connection"
	"krsp-query/internal/logging"
	"krsp-query/internal/observability"
)

// InitLogger builds the process logger writing to w (stderr when nil) and
// installs it as the slog default. With log export on, records are also
// mirrored to the OTLP collector through the returned provider, which the
// caller must shut down or hand to an App.
func InitLogger(cfg *config.Config, w io.Writer) (*logging.Logger, *observability.LoggerProvider, error) {
	obs := cfg.Observability
	lc := logging.Config{Level: obs.Logging.Level, Format: obs.Logging.Format, Writer: w}

	var provider *observability.LoggerProvider
	if obs.Logging.ExportsEnabled {
		otlp := obs.GetLogsConfig()
		var err error
		if provider, err = observability.InitLoggerProvider(telemetryConfig(cfg, otlp)); err != nil {
			return nil, nil, err
		}
		lc.LoggerProvider = provider.Provider()
	}

	logger := logging.NewLogger(lc)
	slog.SetDefault(logger.Logger)
	if provider != nil {
		logger.Debug("log export enabled", endpointAttrs(obs, obs.GetLogsConfig())...)
	}
	return logger, provider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}
	mp, err := observability.InitMeterProvider(telemetryConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}
	qm, err := observability.InitQueryMetrics()
	if err != nil {
		_ = mp.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}
	logger.Debug("metrics enabled", slog.String("metrics_addr", cfg.Observability.MetricsAddr))
	return mp, qm, nil
}

func startMetricsServer(cfg *config.Config, logger *logging.Logger) (*observability.MetricsServer, error) {
	if obs := cfg.Observability; obs.MetricsEnabled && obs.MetricsAddr != "" {
		return observability.StartMetricsServer(obs.MetricsAddr, logger.Logger)
	}
	return nil, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	obs := cfg.Observability
	if !obs.TracingEnabled {
		return nil, nil
	}
	otlp := obs.GetTracesConfig()
	logger.Debug("tracing enabled", append(endpointAttrs(obs, otlp), slog.Float64("sample_ratio", obs.TraceSampleRatio))...)
	return observability.InitTracerProvider(telemetryConfig(cfg, otlp))
}

func endpointAttrs(obs config.ObservabilityConfig, otlp config.OTLPConfig) []any {
	return []any{
		slog.String("service_name", obs.ServiceName),
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Bool("insecure", otlp.Insecure),
	}
}

func telemetryConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	obs := cfg.Observability
	return observability.Config{
		ServiceName:      obs.ServiceName,
		ServiceVersion:   obs.ServiceVersion,
		Environment:      obs.Environment,
		TraceSampleRatio: obs.TraceSampleRatio,
		OTLPConfig:       observability.OTLPExporterConfig(otlp),
	}
}

func connectHandle(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *observability.QueryMetrics) (*connection.Handle, error) {
	obs := cfg.Observability
	return connection.Connect(ctx, cfg.Database,
		connection.WithLogger(logger),
		connection.WithMetrics(metrics),
		connection.WithSchemaFilters(cfg.SchemaFilters),
		connection.WithInstrumentation(connection.Instrumentation{
			Tracing:      obs.TracingEnabled,
			Metrics:      obs.MetricsEnabled,
			SQLCommenter: obs.SQLCommenterEnabled,
		}),
	)
}

// Package app owns the process-wide resources of a krspq invocation: the
// logger, the OpenTelemetry providers, the optional metrics listener and the
// connection handle. Resources are released in reverse order of acquisition.
package app

import (
	"context"
	"fmt"
	"sync"

	"krsp-query/internal/config"
	"krsp-query/internal/connection"
	"krsp-query/internal/logging"
	"krsp-query/internal/observability"
)

// App owns runtime resources for one CLI invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	stateMu       sync.Mutex
	initialized   bool
	held          resources
	queryMetrics  *observability.QueryMetrics
	metricsServer *observability.MetricsServer
	handle        *connection.Handle

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider hands the OTLP logger provider to the App. It is
// released last so shutdown of everything else can still be logged.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	if provider == nil {
		return
	}
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.held = append(resources{{name: "logger provider", release: func(ctx context.Context) error {
		return provider.Shutdown(ctx, a.logger.Logger)
	}}}, a.held...)
}

// Logger returns the application logger.
func (a *App) Logger() *logging.Logger { return a.logger }

// Handle returns the connection handle opened by Init, or nil before Init.
func (a *App) Handle() *connection.Handle {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handle
}

// Metrics returns the query instruments, or nil when metrics are disabled.
func (a *App) Metrics() *observability.QueryMetrics {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.queryMetrics
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"krsp-query/internal/logging"
)

// resource is something acquired by Init that Shutdown has to give back.
type resource struct {
	name    string
	release func(context.Context) error
}

// resources are released newest first.
type resources []resource

func (rs *resources) add(name string, release func(context.Context) error) {
	*rs = append(*rs, resource{name: name, release: release})
}

// releaseAll releases every resource even when some fail and returns the
// failures joined.
func (rs resources) releaseAll(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	var errList []error
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		logger.Debug("releasing", slog.String("component", r.name))
		if err := r.release(ctx); err != nil {
			logger.Warn("release failed", slog.String("component", r.name), slog.String("error", err.Error()))
			errList = append(errList, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	return errors.Join(errList...)
}

// Init starts metrics and tracing and opens the connection handle. Calling it
// again after success does nothing. A failed Init releases whatever it
// acquired before returning.
func (a *App) Init(ctx context.Context) (err error) {
	a.stateMu.Lock()
	done := a.initialized
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var acquired resources
	defer func() {
		if err != nil {
			_ = acquired.releaseAll(context.WithoutCancel(ctx), a.logger)
		}
	}()

	meterProvider, queryMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if meterProvider != nil {
		acquired.add("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, a.logger.Logger)
		})
	}

	metricsServer, err := startMetricsServer(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("start metrics endpoint: %w", err)
	}
	if metricsServer != nil {
		acquired.add("metrics endpoint", metricsServer.Shutdown)
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if tracerProvider != nil {
		acquired.add("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, a.logger.Logger)
		})
	}

	db := a.cfg.Database
	a.logger.Debug("connecting to krsp database",
		slog.String("driver", db.Driver),
		slog.String("host", db.Host),
		slog.String("profile", db.Profile),
		slog.String("schema", db.Schema),
	)
	handle, err := connectHandle(ctx, a.cfg, a.logger, queryMetrics)
	if err != nil {
		return err
	}
	acquired.add("database", func(context.Context) error { return handle.Close() })

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.queryMetrics = queryMetrics
	a.metricsServer = metricsServer
	a.handle = handle
	a.held = append(a.held, acquired...)
	a.initialized = true
	return nil
}

// Shutdown releases everything Init and AttachLoggerProvider handed over.
// Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		held := a.held
		a.held = nil
		a.handle = nil
		a.initialized = false
		a.stateMu.Unlock()

		err = held.releaseAll(ctx, a.logger)
	})
	return err
}

package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 5 * time.Second

// MetricsHandler serves the Prometheus registry the meter provider exports into.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.Handler(), "metrics.scrape"))
	return mux
}

// MetricsServer is an optional /metrics listener for long-running invocations.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan error
}

// StartMetricsServer listens on addr and serves MetricsHandler in the background.
func StartMetricsServer(addr string, logger *slog.Logger) (*MetricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ms := &MetricsServer{
		server: &http.Server{
			Handler:           MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		done:     make(chan error, 1),
	}
	go func() {
		err := ms.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		ms.done <- err
	}()

	logger.Info("metrics endpoint enabled", slog.String("addr", listener.Addr().String()), slog.String("path", "/metrics"))
	return ms, nil
}

// Addr returns the bound listener address.
func (ms *MetricsServer) Addr() string {
	return ms.listener.Addr().String()
}

// Shutdown stops the listener and waits for the serve loop to exit.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := ms.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-ms.done
}

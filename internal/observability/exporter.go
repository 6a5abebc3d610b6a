package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// OTLPExporterConfig is the collector connection shared by trace and log export.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

// Backoff for every exporter when retries are on.
const (
	retryFirst   = time.Second
	retryCeiling = 5 * time.Second
	retryBudget  = 30 * time.Second
)

// otlpTarget is an OTLPExporterConfig resolved once: protocol parsed and TLS
// material loaded. tls is nil for plaintext.
type otlpTarget struct {
	protocol otlpProtocol
	endpoint string
	tls      *tls.Config
	headers  map[string]string
	timeout  time.Duration
	gzip     bool
	retry    bool
}

func newOTLPTarget(cfg OTLPExporterConfig) (otlpTarget, error) {
	t := otlpTarget{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		timeout:  cfg.Timeout,
		gzip:     strings.EqualFold(cfg.Compression, "gzip"),
		retry:    cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "", "grpc":
		t.protocol = otlpProtocolGRPC
	case "http", "http/protobuf":
		t.protocol = otlpProtocolHTTP
	default:
		return otlpTarget{}, fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", cfg.Protocol)
	}
	if !cfg.Insecure {
		var err error
		if t.tls, err = buildTLSConfig(cfg); err != nil {
			return otlpTarget{}, err
		}
	}
	return t, nil
}

// isURL reports whether the endpoint carries a scheme, which the HTTP
// exporters take as a full URL rather than host:port.
func (t otlpTarget) isURL() bool {
	return strings.HasPrefix(t.endpoint, "http://") || strings.HasPrefix(t.endpoint, "https://")
}

func (t otlpTarget) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if t.protocol == otlpProtocolHTTP {
		return otlptracehttp.New(ctx, t.traceHTTP()...)
	}
	return otlptracegrpc.New(ctx, t.traceGRPC()...)
}

func (t otlpTarget) logExporter(ctx context.Context) (sdklog.Exporter, error) {
	if t.protocol == otlpProtocolHTTP {
		return otlploghttp.New(ctx, t.logHTTP()...)
	}
	return otlploggrpc.New(ctx, t.logGRPC()...)
}

// optional collects exporter options, skipping the ones whose setting is unset.
type optional[O any] []O

func (o *optional[O]) add(set bool, opt func() O) {
	if set {
		*o = append(*o, opt())
	}
}

func (t otlpTarget) traceGRPC() []otlptracegrpc.Option {
	opts := optional[otlptracegrpc.Option]{otlptracegrpc.WithEndpoint(t.endpoint)}
	opts.add(t.tls == nil, otlptracegrpc.WithInsecure)
	opts.add(t.tls != nil, func() otlptracegrpc.Option {
		return otlptracegrpc.WithTLSCredentials(credentials.NewTLS(t.tls))
	})
	opts.add(len(t.headers) > 0, func() otlptracegrpc.Option { return otlptracegrpc.WithHeaders(t.headers) })
	opts.add(t.timeout > 0, func() otlptracegrpc.Option { return otlptracegrpc.WithTimeout(t.timeout) })
	opts.add(t.gzip, func() otlptracegrpc.Option { return otlptracegrpc.WithCompressor("gzip") })
	opts.add(t.retry, func() otlptracegrpc.Option {
		return otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled: true, InitialInterval: retryFirst, MaxInterval: retryCeiling, MaxElapsedTime: retryBudget,
		})
	})
	return opts
}

func (t otlpTarget) traceHTTP() []otlptracehttp.Option {
	var opts optional[otlptracehttp.Option]
	opts.add(t.isURL(), func() otlptracehttp.Option { return otlptracehttp.WithEndpointURL(t.endpoint) })
	opts.add(!t.isURL(), func() otlptracehttp.Option { return otlptracehttp.WithEndpoint(t.endpoint) })
	opts.add(t.tls == nil, otlptracehttp.WithInsecure)
	opts.add(t.tls != nil, func() otlptracehttp.Option { return otlptracehttp.WithTLSClientConfig(t.tls) })
	opts.add(len(t.headers) > 0, func() otlptracehttp.Option { return otlptracehttp.WithHeaders(t.headers) })
	opts.add(t.timeout > 0, func() otlptracehttp.Option { return otlptracehttp.WithTimeout(t.timeout) })
	opts.add(t.gzip, func() otlptracehttp.Option {
		return otlptracehttp.WithCompression(otlptracehttp.GzipCompression)
	})
	opts.add(t.retry, func() otlptracehttp.Option {
		return otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled: true, InitialInterval: retryFirst, MaxInterval: retryCeiling, MaxElapsedTime: retryBudget,
		})
	})
	return opts
}

func (t otlpTarget) logGRPC() []otlploggrpc.Option {
	opts := optional[otlploggrpc.Option]{otlploggrpc.WithEndpoint(t.endpoint)}
	opts.add(t.tls == nil, otlploggrpc.WithInsecure)
	opts.add(t.tls != nil, func() otlploggrpc.Option {
		return otlploggrpc.WithTLSCredentials(credentials.NewTLS(t.tls))
	})
	opts.add(len(t.headers) > 0, func() otlploggrpc.Option { return otlploggrpc.WithHeaders(t.headers) })
	opts.add(t.timeout > 0, func() otlploggrpc.Option { return otlploggrpc.WithTimeout(t.timeout) })
	opts.add(t.gzip, func() otlploggrpc.Option { return otlploggrpc.WithCompressor("gzip") })
	opts.add(t.retry, func() otlploggrpc.Option {
		return otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled: true, InitialInterval: retryFirst, MaxInterval: retryCeiling, MaxElapsedTime: retryBudget,
		})
	})
	return opts
}

func (t otlpTarget) logHTTP() []otlploghttp.Option {
	var opts optional[otlploghttp.Option]
	opts.add(t.isURL(), func() otlploghttp.Option { return otlploghttp.WithEndpointURL(t.endpoint) })
	opts.add(!t.isURL(), func() otlploghttp.Option { return otlploghttp.WithEndpoint(t.endpoint) })
	opts.add(t.tls == nil, otlploghttp.WithInsecure)
	opts.add(t.tls != nil, func() otlploghttp.Option { return otlploghttp.WithTLSClientConfig(t.tls) })
	opts.add(len(t.headers) > 0, func() otlploghttp.Option { return otlploghttp.WithHeaders(t.headers) })
	opts.add(t.timeout > 0, func() otlploghttp.Option { return otlploghttp.WithTimeout(t.timeout) })
	opts.add(t.gzip, func() otlploghttp.Option {
		return otlploghttp.WithCompression(otlploghttp.GzipCompression)
	})
	opts.add(t.retry, func() otlploghttp.Option {
		return otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled: true, InitialInterval: retryFirst, MaxInterval: retryCeiling, MaxElapsedTime: retryBudget,
		})
	})
	return opts
}

var errClientPair = errors.New("OTLP TLS client cert and key must both be set")

// buildTLSConfig loads the collector CA and the optional client key pair.
func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("read OTLP TLS CA file: %w", err)
		}
		out.RootCAs = x509.NewCertPool()
		if !out.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse OTLP TLS CA file %s: no PEM certificates", cfg.TLSCertFile)
		}
	}
	switch {
	case cfg.TLSClientCertFile == "" && cfg.TLSClientKeyFile == "":
	case cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "":
		return nil, errClientPair
	default:
		pair, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load OTLP TLS client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Address returns the host:port a resolved config dials. "local" maps to localhost.
func (d *DatabaseConfig) Address() string {
	host := d.Host
	if host == "" || host == DefaultHost {
		host = "localhost"
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		return net.JoinHostPort(h, p)
	}
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// MySQLConfig returns the driver configuration for a resolved config. Verified
// TLS modes carry their *tls.Config on the result, so open it with
// mysql.NewConnector rather than through a DSN string.
func (d *DatabaseConfig) MySQLConfig() (*mysql.Config, error) {
	c := mysql.NewConfig()
	c.User = d.User
	c.Passwd = d.Password
	c.Net = "tcp"
	c.Addr = d.Address()
	c.DBName = d.Schema
	c.ParseTime = true
	c.Loc = time.UTC
	c.Timeout = d.ConnectionTimeout

	switch d.TLS.Mode {
	case "":
	case "off":
		c.TLSConfig = "false"
	case "skip-verify":
		c.TLSConfig = "skip-verify"
	case "verify-ca", "verify-full":
		tlsCfg, err := d.tlsConfig()
		if err != nil {
			return nil, fmt.Errorf("database tls: %w", err)
		}
		c.TLS = tlsCfg
	default:
		return nil, fmt.Errorf("database tls: unknown mode %q", d.TLS.Mode)
	}
	return c, nil
}

// SQLiteDSN returns the modernc sqlite DSN opening Path read-only.
func (d *DatabaseConfig) SQLiteDSN() string {
	path := d.Path
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "mode=ro"
}

// tlsConfig builds the client TLS settings for verify-ca and verify-full.
// verify-ca checks the chain against ca_file but not the host name.
func (d *DatabaseConfig) tlsConfig() (*tls.Config, error) {
	t := d.TLS
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca_file: %w", err)
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in ca_file %q", t.CAFile)
		}
	}

	switch {
	case t.CertFile != "" && t.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case t.CertFile != "" || t.KeyFile != "":
		return nil, errors.New("cert_file and key_file must be set together")
	}

	if t.Mode == "verify-ca" {
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = chainVerifier(cfg.RootCAs)
		return cfg, nil
	}
	cfg.ServerName = t.ServerName
	if cfg.ServerName == "" {
		cfg.ServerName, _, _ = net.SplitHostPort(d.Address())
	}
	return cfg, nil
}

// chainVerifier checks the presented chain against roots without a host name.
func chainVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return errors.New("server presented no certificate")
		}
		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		var leaf *x509.Certificate
		for i, der := range raw {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("parse server certificate: %w", err)
			}
			if i == 0 {
				leaf = cert
			} else {
				opts.Intermediates.AddCert(cert)
			}
		}
		_, err := leaf.Verify(opts)
		return err
	}
}

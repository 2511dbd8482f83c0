// Package security builds TLS configuration for broker connections.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ClientTLSConfig holds client TLS configuration for the MQTT broker.
type ClientTLSConfig struct {
	CAFile             string // CA bundle for the broker certificate; empty uses system roots
	CertFile           string // Client certificate for mTLS; optional
	KeyFile            string // Client private key for mTLS; required with CertFile
	ServerName         string // Overrides the name checked against the broker certificate
	InsecureSkipVerify bool   // Skip broker certificate verification (dev only)
}

// Enabled reports whether any TLS material or option is set.
func (c ClientTLSConfig) Enabled() bool {
	return c.CAFile != "" || c.CertFile != "" || c.KeyFile != "" || c.ServerName != "" || c.InsecureSkipVerify
}

// LoadClientTLS builds a tls.Config that verifies the broker and, when a
// certificate is configured, presents it for mutual TLS.
func LoadClientTLS(cfg ClientTLSConfig) (*tls.Config, error) {
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("client certificate and key must be set together")
	}

	tlsConfig := &tls.Config{
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for development brokers
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.CertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	if cfg.CAFile != "" && !cfg.InsecureSkipVerify {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = caPool
	}

	return tlsConfig, nil
}

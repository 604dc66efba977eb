// Package tlsutil builds the client-side TLS configuration used for the
// mutually authenticated broker connection.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidPEM is returned when the root CA file holds no usable certificate.
var ErrInvalidPEM = errors.New("invalid PEM data")

// MTLSConfig points at the pre-provisioned certificate material.
type MTLSConfig struct {
	CAFile     string // root CA bundle; empty means the system pool
	CertFile   string // client certificate (PEM)
	KeyFile    string // client private key (PEM)
	MinVersion string // "1.2" (default) or "1.3"
}

// LoadClientMTLS returns a tls.Config that trusts CAFile and presents the
// client certificate during the handshake.
func LoadClientMTLS(cfg MTLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("tlsutil: client certificate and key are required")
	}

	rootCAs, err := loadRootCAs(cfg.CAFile)
	if err != nil {
		return nil, err
	}

	clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: load client certificate: %w", err)
	}

	return &tls.Config{
		RootCAs:      rootCAs,
		Certificates: []tls.Certificate{clientCert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

func loadRootCAs(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return x509.NewCertPool(), nil
		}
		return pool, nil
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: read CA file %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("tlsutil: parse CA certificate from %s: %w", caFile, ErrInvalidPEM)
	}
	return pool, nil
}

// parseTLSVersion defaults to TLS 1.2 for empty or unknown input.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

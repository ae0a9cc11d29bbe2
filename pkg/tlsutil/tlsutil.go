// Package tlsutil builds server TLS configuration for the HTTP and WebSocket listener.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/note-9/health-monitor/errors"
)

// ServerConfig names the certificate files for a TLS listener
type ServerConfig struct {
	CertFile   string
	KeyFile    string
	MinVersion string // "1.2" or "1.3"

	// ClientCAFile enables client certificate verification against this bundle
	ClientCAFile      string
	RequireClientCert bool
}

// LoadServerTLSConfig creates a tls.Config for HTTP/WebSocket servers.
// It returns nil when no certificate is configured.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if cfg.CertFile == "" && cfg.KeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if cfg.ClientCAFile == "" {
		if cfg.RequireClientCert {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: client certificates required without a client CA", errors.ErrInvalidConfig),
				"tlsutil", "LoadServerTLSConfig", "check mTLS settings")
		}
		return tlsConfig, nil
	}

	clientCAs, err := loadCertPool(cfg.ClientCAFile)
	if err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsConfig, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "loadCertPool",
			fmt.Sprintf("read CA file %s", caFile))
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.WrapFatal(
			fmt.Errorf("invalid PEM data"),
			"tlsutil", "loadCertPool",
			fmt.Sprintf("parse CA certificate from %s", caFile))
	}
	return pool, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

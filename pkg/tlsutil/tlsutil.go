// Package tlsutil builds TLS configurations for the DMOD protocol layer.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
)

// LoadServerTLSConfig creates a tls.Config for the protocol listener.
// Returns nil when TLS is disabled.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig creates a tls.Config for transport clients. The trust
// source is decided once from which of CAFile, CAPath, and UseDefault are
// set; Insecure disables verification entirely.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	if cfg.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	switch {
	case cfg.CAFile != "":
		pool := x509.NewCertPool()
		if err := appendCAFile(pool, cfg.CAFile); err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool

	case cfg.CAPath != "":
		pool := x509.NewCertPool()
		entries, err := os.ReadDir(cfg.CAPath)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("read CA directory %s", cfg.CAPath))
		}
		loaded := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := appendCAFile(pool, filepath.Join(cfg.CAPath, entry.Name())); err != nil {
				continue // skip non-certificate files
			}
			loaded++
		}
		if loaded == 0 {
			return nil, errors.WrapFatal(
				fmt.Errorf("no usable certificates in %s", cfg.CAPath),
				"tlsutil", "LoadClientTLSConfig", "build CA pool")
		}
		tlsConfig.RootCAs = pool

	default:
		// System default trust store. A nil RootCAs would do the same, but
		// loading explicitly surfaces platform errors at construction.
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func appendCAFile(pool *x509.CertPool, path string) error {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapFatal(err, "tlsutil", "appendCAFile",
			fmt.Sprintf("read CA file %s", path))
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return errors.WrapFatal(
			fmt.Errorf("invalid PEM data"),
			"tlsutil", "appendCAFile",
			fmt.Sprintf("parse CA certificate from %s", path))
	}
	return nil
}

// parseTLSVersion converts a version string to a crypto/tls constant.
// Returns tls.VersionTLS12 if empty or invalid.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}

// Package tls builds the certificate setup for the REST API listener.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/serverctl/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// ErrNoCertificate reports TLS enabled without cert files or a cert directory.
var ErrNoCertificate = errors.New("TLS enabled but no valid certificate configuration found")

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certificateLoader re-reads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func certificateLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		c, err := tls.X509KeyPair(certPEM, keyPEM)
		return &c, err
	}
}

// Setup returns the listener TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over Dir; with AutoGenerate a missing pair in
// Dir is created as a self-signed certificate.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer := uint16(tls.VersionTLS12)
	if v, ok := parseTLSVersion(c.MinVersion); ok {
		minVer = v
	} else if c.MinVersion != "" && c.MinVersion != "default" {
		return nil, fmt.Errorf("%w: unsupported tls min_version %q", config.ErrInvalid, c.MinVersion)
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case c.Dir != "":
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			err := GenerateSelfSignedCert(CertConfig{
				CommonName:   "localhost",
				Organization: "serverctl",
				DNSNames:     []string{"localhost"},
				IPAddresses:  []string{"127.0.0.1"},
				ValidDays:    c.ValidDays,
				CertPath:     certPath,
				KeyPath:      keyPath,
				CACertPath:   filepath.Join(c.Dir, tlsCaCrt),
			})
			if err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, ErrNoCertificate
	}
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("%w: %s / %s not readable", ErrNoCertificate, certPath, keyPath)
	}

	// #nosec G402 min version is configurable down to 1.2 only
	return &tls.Config{
		GetCertificate: certificateLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

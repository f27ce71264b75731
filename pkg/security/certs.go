// Package security loads the server-side TLS material used to terminate
// client connections. The server never requests a client certificate: the
// wire protocol authenticates principals itself, via SCRAM.
package security

import (
	"crypto/tls"
	"fmt"
)

// TLSConfig holds the two PEM files recognized by net.tls.* configuration.
type TLSConfig struct {
	CAFile     string `yaml:"ca_file"`      // certificate chain, PEM-encoded
	PEMKeyFile string `yaml:"pem_key_file"` // PKCS#8 private key, PEM-encoded
}

// Enabled reports whether both files required to terminate TLS were supplied.
func (c TLSConfig) Enabled() bool {
	return c.CAFile != "" && c.PEMKeyFile != ""
}

// LoadServerTLSConfig loads a certificate chain and private key and returns a
// *tls.Config suitable for a listening socket. Client certificate
// authentication is never requested.
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CAFile, cfg.PEMKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

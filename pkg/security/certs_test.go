package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedCert(t *testing.T, dir string) TLSConfig {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "rustbased-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}); err != nil {
		t.Fatalf("encode key: %v", err)
	}

	return TLSConfig{CAFile: certPath, PEMKeyFile: keyPath}
}

func TestTLSConfigEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  TLSConfig
		want bool
	}{
		{"both set", TLSConfig{CAFile: "a", PEMKeyFile: "b"}, true},
		{"missing key", TLSConfig{CAFile: "a"}, false},
		{"missing ca", TLSConfig{PEMKeyFile: "b"}, false},
		{"neither set", TLSConfig{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadServerTLSConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeSelfSignedCert(t, dir)

	tlsCfg, err := LoadServerTLSConfig(cfg)
	if err != nil {
		t.Fatalf("LoadServerTLSConfig() error = %v", err)
	}
	if len(tlsCfg.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(tlsCfg.Certificates))
	}
	if tlsCfg.ClientAuth != 0 {
		t.Errorf("expected NoClientCert (0), got %v", tlsCfg.ClientAuth)
	}
}

func TestLoadServerTLSConfigMissingFile(t *testing.T) {
	_, err := LoadServerTLSConfig(TLSConfig{CAFile: "/nonexistent.crt", PEMKeyFile: "/nonexistent.key"})
	if err == nil {
		t.Fatal("expected error for missing files")
	}
}

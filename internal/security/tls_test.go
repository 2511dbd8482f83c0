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

// writeCertPair writes a self-signed certificate and key and returns their paths.
func writeCertPair(t *testing.T, dir, name string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadClientTLS_MutualTLS(t *testing.T) {
	dir := t.TempDir()
	caFile, _ := writeCertPair(t, dir, "ca")
	certFile, keyFile := writeCertPair(t, dir, "pondwatch")

	cfg, err := LoadClientTLS(ClientTLSConfig{
		CAFile:     caFile,
		CertFile:   certFile,
		KeyFile:    keyFile,
		ServerName: "broker.farm.local",
	})
	if err != nil {
		t.Fatalf("LoadClientTLS failed: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs should be set from CAFile")
	}
	if cfg.ServerName != "broker.farm.local" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
}

func TestLoadClientTLS_SystemRoots(t *testing.T) {
	cfg, err := LoadClientTLS(ClientTLSConfig{})
	if err != nil {
		t.Fatalf("LoadClientTLS failed: %v", err)
	}
	if cfg.RootCAs != nil || len(cfg.Certificates) != 0 {
		t.Error("empty config should use system roots and no client certificate")
	}
}

func TestLoadClientTLS_InsecureSkipVerify(t *testing.T) {
	cfg, err := LoadClientTLS(ClientTLSConfig{
		CAFile:             "/nonexistent/ca.crt",
		InsecureSkipVerify: true,
	})
	if err != nil {
		t.Fatalf("LoadClientTLS failed: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should be set")
	}
}

func TestLoadClientTLS_Errors(t *testing.T) {
	dir := t.TempDir()
	certFile, _ := writeCertPair(t, dir, "client")
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  ClientTLSConfig
	}{
		{"cert without key", ClientTLSConfig{CertFile: certFile}},
		{"missing cert files", ClientTLSConfig{CertFile: "/nonexistent/a.crt", KeyFile: "/nonexistent/a.key"}},
		{"missing CA", ClientTLSConfig{CAFile: "/nonexistent/ca.crt"}},
		{"CA without certificates", ClientTLSConfig{CAFile: garbage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadClientTLS(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClientTLSConfig_Enabled(t *testing.T) {
	if (ClientTLSConfig{}).Enabled() {
		t.Error("zero config should be disabled")
	}
	if !(ClientTLSConfig{CAFile: "ca.crt"}).Enabled() {
		t.Error("CA file should enable TLS")
	}
}

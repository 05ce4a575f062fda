package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}
	if !leaf.IsCA {
		t.Error("certificate should be usable as its own root")
	}

	foundIP := false
	for _, ip := range leaf.IPAddresses {
		if ip.String() == "127.0.0.1" {
			foundIP = true
			break
		}
	}
	if !foundIP {
		t.Errorf("IP SANs: %v does not contain 127.0.0.1", leaf.IPAddresses)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
}

func TestClientConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig("smtp.example.com", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "smtp.example.com")
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", cfg.MinVersion, standardtls.VersionTLS12)
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs should be nil to use system roots")
	}
}

func TestClientConfig_CAFile(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	cfg, err := ClientConfig("", path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs should be set from the CA file")
	}
}

func TestClientConfig_BadCAFile(t *testing.T) {
	t.Parallel()

	if _, err := ClientConfig("", "/nonexistent/ca.pem", false); err == nil {
		t.Error("expected error for nonexistent CA file, got nil")
	}

	path := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := ClientConfig("", path, false); err == nil {
		t.Error("expected error for CA file without certificates, got nil")
	}
}

func TestWithServerName(t *testing.T) {
	t.Parallel()

	cfg := WithServerName(nil, "imap.example.com")
	if cfg.ServerName != "imap.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "imap.example.com")
	}

	base := &standardtls.Config{ServerName: "override.example.com"}
	cfg = WithServerName(base, "imap.example.com")
	if cfg.ServerName != "override.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "override.example.com")
	}
	if cfg == base {
		t.Error("WithServerName should return a copy")
	}
}

func TestLoopback_Handshake(t *testing.T) {
	t.Parallel()

	serverCfg, clientCfg, err := Loopback()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ln, err := standardtls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.(*standardtls.Conn).Handshake()
	}()

	conn, err := standardtls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	conn.Close()
}

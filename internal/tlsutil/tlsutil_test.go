// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")

	if err := GenerateSelfSignedCert(certPath, keyPath, "fpga-lab.local", "10.0.0.7", ""); err != nil {
		t.Fatalf("GenerateSelfSignedCert() error = %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}

	if perm := info.Mode().Perm(); perm != keyFileMode {
		t.Errorf("key file mode = %o, want %o", perm, keyFileMode)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadX509KeyPair() error = %v", err)
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}

	if parsed.Subject.CommonName != CommonName {
		t.Errorf("CommonName = %q, want %q", parsed.Subject.CommonName, CommonName)
	}

	if !slices.Contains(parsed.DNSNames, "fpga-lab.local") || !slices.Contains(parsed.DNSNames, "localhost") {
		t.Errorf("DNSNames = %v", parsed.DNSNames)
	}

	if err := parsed.VerifyHostname("10.0.0.7"); err != nil {
		t.Errorf("VerifyHostname(10.0.0.7) error = %v", err)
	}
}

func TestGenerateSelfSignedCertInvalidPath(t *testing.T) {
	if err := GenerateSelfSignedCert("/nonexistent/directory/cert.pem", "/nonexistent/directory/key.pem"); err == nil {
		t.Error("GenerateSelfSignedCert() error = nil for an invalid path")
	}
}

func TestLoadOrGenerateCert(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, certPath, keyPath string)
		wantErr bool
	}{
		{
			name:  "generates when files do not exist",
			setup: func(*testing.T, string, string) {},
		},
		{
			name: "loads existing certificate",
			setup: func(t *testing.T, certPath, keyPath string) {
				if err := GenerateSelfSignedCert(certPath, keyPath); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "refuses a lone certificate",
			setup: func(t *testing.T, certPath, _ string) {
				if err := os.WriteFile(certPath, []byte("invalid"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "tls")
			certPath, keyPath := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")

			if err := os.MkdirAll(dir, dirMode); err != nil {
				t.Fatal(err)
			}

			tt.setup(t, certPath, keyPath)

			cert, err := LoadOrGenerateCert(certPath, keyPath)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadOrGenerateCert() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr && len(cert.Certificate) == 0 {
				t.Error("certificate is empty")
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	cfg := ServerConfig(tls.Certificate{})

	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %x, want TLS 1.3", cfg.MinVersion)
	}

	if !slices.Contains(cfg.NextProtos, "h2") {
		t.Errorf("NextProtos = %v, want h2", cfg.NextProtos)
	}
}

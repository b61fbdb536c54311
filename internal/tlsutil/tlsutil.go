// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tlsutil provides the agent's TLS certificate. If none is configured
// yet, a self-signed one is generated on first start.
package tlsutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	certFileMode = 0o644
	keyFileMode  = 0o600
	dirMode      = 0o755

	serialNumberBits = 128
	validity         = 10 * 365 * 24 * time.Hour

	// CommonName is the subject of generated certificates.
	CommonName = "fpgaagent"
)

// GenerateSelfSignedCert writes a new self-signed Ed25519 certificate and its
// private key. The certificate covers localhost, the system hostname and hosts,
// which may be names or IP addresses.
func GenerateSelfSignedCert(certPath, keyPath string, hosts ...string) error {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	der, err := createCertificate(publicKey, privateKey, hosts)
	if err != nil {
		return err
	}

	if err := writePEM(certPath, certFileMode, "CERTIFICATE", der); err != nil {
		return err
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	if err := writePEM(keyPath, keyFileMode, "PRIVATE KEY", privBytes); err != nil {
		return err
	}

	log.Info().Str("cert", certPath).Str("key", keyPath).Msg("Generated self-signed TLS certificate")

	return nil
}

func createCertificate(publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey, hosts []string) ([]byte, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), serialNumberBits))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	names := []string{"localhost"}
	if hostname, err := os.Hostname(); err == nil {
		names = append(names, hostname)
	}

	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}

	for _, h := range hosts {
		if h == "" {
			continue
		}

		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
		} else if !slices.Contains(names, h) {
			names = append(names, h)
		}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Blindspot Software"},
			CommonName:   CommonName,
		},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              names,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, publicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return der, nil
}

func writePEM(path string, mode os.FileMode, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// LoadOrGenerateCert loads the certificate/key pair. If neither file exists, a
// self-signed pair is generated first. If only one exists or loading fails,
// an error is returned and nothing is overwritten.
func LoadOrGenerateCert(certPath, keyPath string, hosts ...string) (tls.Certificate, error) {
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists || keyExists {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("load certificate (cert exists: %v, key exists: %v): %w",
				certExists, keyExists, err)
		}

		log.Info().Str("cert", certPath).Msg("Loaded TLS certificate")

		return cert, nil
	}

	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return tls.Certificate{}, fmt.Errorf("create certificate directory: %w", err)
		}
	}

	if err := GenerateSelfSignedCert(certPath, keyPath, hosts...); err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load generated certificate: %w", err)
	}

	return cert, nil
}

// ServerConfig returns the agent's TLS configuration for cert. It requires
// TLS 1.3 and offers HTTP/2.
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2", "http/1.1"},
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir()
}

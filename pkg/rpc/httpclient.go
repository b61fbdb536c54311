// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc provides HTTP client utilities for RPC communication with fpgaagent.
package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"golang.org/x/net/http2"
)

// ErrCertPool is returned if the trusted certificates cannot be used.
var ErrCertPool = errors.New("no usable certificate")

// ClientOptions select the transport to an agent.
type ClientOptions struct {
	// TLS connects via HTTPS instead of h2c.
	TLS bool
	// CAFile is a PEM file with certificates to trust in addition to the system
	// pool, e.g. an agent's self-signed certificate. Implies TLS.
	CAFile string
	// ServerName overrides the name the agent's certificate is verified against.
	ServerName string
}

// NewClient returns an HTTP client for talking to an agent together with the URL
// scheme to use. Without TLS, the client speaks h2c (HTTP/2 without TLS). With
// TLS, it requires TLS 1.3.
func NewClient(opts ClientOptions) (*http.Client, string, error) {
	if !opts.TLS && opts.CAFile == "" {
		return NewInsecureClient(), "http", nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		ServerName: opts.ServerName,
	}

	if opts.CAFile != "" {
		pool, err := certPool(opts.CAFile)
		if err != nil {
			return nil, "", err
		}

		tlsConfig.RootCAs = pool
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			ForceAttemptHTTP2: true,
			TLSClientConfig:   tlsConfig,
		},
	}, "https", nil
}

func certPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertPool, err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s holds no PEM certificate", ErrCertPool, path)
	}

	return pool, nil
}

// NewInsecureClient creates an HTTP client for h2c (HTTP/2 without TLS).
func NewInsecureClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer

				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

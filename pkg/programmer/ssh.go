// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package programmer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPort is used if SSHExecutor.Port is unset.
const DefaultSSHPort = 22

// SSHExecutor runs tools on the lab host the programming cable is attached to.
// Each call opens a new connection and closes it when the tool has finished.
//
// The remote command is built for a POSIX shell, every argument is single-quoted.
type SSHExecutor struct {
	Host       string // Host is the hostname or IP address of the lab host.
	Port       int    // Port of the SSH server. Default is 22.
	User       string // User to log in as.
	KeyPath    string // KeyPath is the path to the private key file.
	Passphrase []byte // Passphrase of the private key, if it is encrypted.
	// KnownHostsPath is the known_hosts file used to verify the host key.
	// If unset, ~/.ssh/known_hosts is used.
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	// Timeout bounds establishing the connection. Zero means no bound.
	Timeout time.Duration
}

// Ensure implementing the Executor interface.
var _ Executor = &SSHExecutor{}

func (e *SSHExecutor) Run(ctx context.Context, name string, args ...string) (Output, error) {
	client, err := e.dial(ctx)
	if err != nil {
		return Output{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("ssh session on %s: %w", e.Host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)

	go func() {
		done <- session.Run(joinCommand(name, args))
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		<-done

		return Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1},
			fmt.Errorf("%s on %s: %w", name, e.Host, ctx.Err())
	}

	out := Output{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()

			return out, nil
		}

		return out, fmt.Errorf("%s on %s: %w", name, e.Host, err)
	}

	return out, nil
}

func (e *SSHExecutor) dial(ctx context.Context) (*ssh.Client, error) {
	addr, err := e.address()
	if err != nil {
		return nil, err
	}

	config, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: e.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (e *SSHExecutor) address() (string, error) {
	host := strings.TrimSpace(e.Host)
	if host == "" {
		return "", errors.New("ssh host is required")
	}

	port := e.Port
	if port == 0 {
		port = DefaultSSHPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	if e.User == "" {
		return nil, errors.New("ssh user is required")
	}

	signer, err := e.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback

	if e.InsecureIgnoreHostKey {
		//nolint:gosec // G106: explicitly requested by configuration
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		hostKeyCallback, err = e.knownHostsCallback()
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            e.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.Timeout,
	}, nil
}

func (e *SSHExecutor) signer() (ssh.Signer, error) {
	if e.KeyPath == "" {
		return nil, errors.New("ssh key path is required")
	}

	key, err := os.ReadFile(e.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	if len(e.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(key, e.Passphrase)
	}

	return ssh.ParsePrivateKey(key)
}

func (e *SSHExecutor) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(e.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("known_hosts path not set and home directory unavailable")
		}

		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	return cb, nil
}

func joinCommand(name string, args []string) string {
	var b strings.Builder

	b.WriteString(shellQuote(name))

	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}

	return b.String()
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

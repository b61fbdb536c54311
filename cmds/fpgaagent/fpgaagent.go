// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fpgaagent is the server of the FPGA demonstrator. It runs on the host the
// programming cable is attached to, supervises the JTAG-UART terminal and
// serves the control API to fpgactl.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/buildinfo"
	"github.com/BlindspotSoftware/fpgactl/internal/fsm"
	"github.com/BlindspotSoftware/fpgactl/internal/tlsutil"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const usageAbstract = `fpgaagent - The server of the FPGA demonstrator.

fpgaagent selects a programming cable, starts the JTAG-UART terminal and serves
the control API fpgactl connects to.
`

const usageSynopsis = `
SYNOPSIS:
	fpgaagent [options]

`

const (
	configInfo  = `Path to the configuration file (.yaml, .yml or .toml). Built-in defaults are used if unset`
	deviceInfo  = `Index of the programming cable to use, overrides the configuration`
	addressInfo = `Address and port to listen on, overrides the configuration`
	rootInfo    = `Directory holding the sofs/ and images/ directories, overrides the configuration`
	verboseInfo = `Debug logging and full programming tool output`
	versionInfo = `Print version information and exit`
)

const shutdownTimeout = 5 * time.Second

type flags struct {
	config  string
	device  int
	address string
	root    string
	verbose bool
	version bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageAbstract, usageSynopsis, "OPTIONS:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.config, "c", "", configInfo)
	fs.IntVar(&f.device, "device", -1, deviceInfo)
	fs.StringVar(&f.address, "s", "", addressInfo)
	fs.StringVar(&f.root, "root", "", rootInfo)
	fs.BoolVar(&f.verbose, "v", false, verboseInfo)
	fs.BoolVar(&f.version, "version", false, versionInfo)

	if err := fs.Parse(args[1:]); err != nil {
		return f, err
	}

	if fs.NArg() > 0 {
		fs.Usage()

		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return f, nil
}

// run starts the agent and serves until ctx is cancelled or serving fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if f.version {
		fmt.Fprint(stdout, "FPGA Control Agent\n", buildinfo.VersionString())

		return nil
	}

	a, err := fsm.Run(ctx, &agentArgs{flags: f, logOut: stderr}, startup)
	if a.shutdown != nil {
		defer a.shutdown()
	}

	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	return serve(ctx, a)
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, a *agentArgs) error {
	mux := http.NewServeMux()

	path, handler := controlv1.NewControlServiceHandler(&rpcService{ctl: a.agent, events: a.hub})
	mux.Handle(path, handler)

	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.cfg.TLS.Enabled() {
		host, _, _ := net.SplitHostPort(a.cfg.Listen)

		cert, err := tlsutil.LoadOrGenerateCert(a.cfg.TLS.Cert, a.cfg.TLS.Key, host)
		if err != nil {
			return err
		}

		srv.Handler = mux
		srv.TLSConfig = tlsutil.ServerConfig(cert)

		if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
			return fmt.Errorf("configure HTTP/2: %w", err)
		}
	} else {
		// Use h2c so we can serve HTTP/2 without TLS.
		srv.Handler = h2c.NewHandler(mux, &http2.Server{})
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("address", a.cfg.Listen).Bool("tls", a.cfg.TLS.Enabled()).Msg("Serving control API")

		if a.cfg.TLS.Enabled() {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("internal RPC handler error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	// End running log streams first, they would keep connections busy.
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}

		log.Error().Err(err).Msg("fpgaagent stopped")
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fpgactl is the client application of the FPGA demonstrator.
// It provides a command line interface to the fpgaagent: programming bitstreams,
// sending terminal commands and following the terminal's log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/buildinfo"
	"github.com/BlindspotSoftware/fpgactl/internal/logging"
	"github.com/BlindspotSoftware/fpgactl/internal/output"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
	"github.com/rs/zerolog"
)

const usageAbstract = `fpgactl - The client application of the FPGA demonstrator.
`
const usageSynopsis = `
SYNOPSIS:
	fpgactl [options] devices
	fpgactl [options] status
	fpgactl [options] program <bitstream>
	fpgactl [options] press <action>
	fpgactl [options] send <command>|-
	fpgactl [options] logs
	fpgactl version

`
const usageDescription = `
devices lists the programming cables found by the agent and marks the selected one.

program writes a bitstream, e.g. colour-bars or grayscale-bars, to the FPGA and
waits until the programming tool has finished.

press triggers a named action, e.g. original or malicious. It sends the action's
command to the terminal and switches the status picture.

send writes a command to the terminal verbatim. With -, every line read from
standard input is sent as a separate command.

logs follows the classified terminal output until interrupted.

`

const (
	serverAddrInfo   = `Address and port of the fpgaagent to connect to in the format: address:port`
	outputFormatInfo = `Output format, text|json|yaml|oneline, default is text`
	verboseInfo      = `Verbose output`
	noColorInfo      = `Disable colored output`
	tlsInfo          = `Connect via TLS instead of plain HTTP/2`
	caInfo           = `PEM file with the agent's certificate to trust, implies -tls`
	timeoutInfo      = `Timeout for a single request, 0 means none. Does not apply to logs`
)

func newApp(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, exitFunc func(int), args []string) *application {
	var app application

	app.ctx = ctx
	app.stdout = stdout
	app.stderr = stderr
	app.stdin = stdin
	app.exitFunc = exitFunc

	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	fs.SetOutput(stderr)

	app.printFlagDefaults = func() {
		fmt.Fprint(stderr, "OPTIONS:\n")
		fs.PrintDefaults()
	}
	fs.Usage = func() {
		fmt.Fprint(stderr, usageAbstract, usageSynopsis, usageDescription)
		app.printFlagDefaults()
	}
	// Flags
	fs.StringVar(&app.serverAddr, "s", "localhost:1024", serverAddrInfo)
	fs.StringVar(&app.outputFormat, "f", "", outputFormatInfo)
	fs.BoolVar(&app.verbose, "v", false, verboseInfo)
	fs.BoolVar(&app.noColor, "no-color", false, noColorInfo)
	fs.BoolVar(&app.tls, "tls", false, tlsInfo)
	fs.StringVar(&app.caFile, "ca", "", caInfo)
	fs.DurationVar(&app.timeout, "timeout", 0, timeoutInfo)

	//nolint:errcheck // flag.Parse always returns no error because of flag.ExitOnError
	fs.Parse(args[1:])
	app.args = fs.Args()

	// Setup output formatter
	app.formatter = output.New(output.Config{
		Stdout:  stdout,
		Stderr:  stderr,
		Format:  app.outputFormat,
		Verbose: app.verbose,
		NoColor: app.noColor,
	})

	level, color := "warn", logging.ColorAuto
	if app.verbose {
		level = "debug"
	}

	if app.noColor {
		color = logging.ColorNever
	}

	app.log = logging.New(logging.Config{App: "fpgactl", Level: level, Color: color, Out: stderr})

	return &app
}

type application struct {
	ctx      context.Context
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	exitFunc func(int)

	// flags
	serverAddr        string
	outputFormat      string
	verbose           bool
	noColor           bool
	tls               bool
	caFile            string
	timeout           time.Duration
	args              []string
	printFlagDefaults func()

	rpcClient controlv1.ControlServiceClient
	formatter output.Formatter
	log       zerolog.Logger
}

func (app *application) setupRPCClient() error {
	httpClient, scheme, err := rpc.NewClient(rpc.ClientOptions{TLS: app.tls, CAFile: app.caFile})
	if err != nil {
		return err
	}

	app.rpcClient = controlv1.NewControlServiceClient(httpClient, fmt.Sprintf("%s://%s", scheme, app.serverAddr))
	app.log.Debug().Str("server", app.serverAddr).Str("scheme", scheme).Msg("RPC client ready")

	return nil
}

var errInvalidCmdline = errors.New("invalid command line")

// start is the entry point of the application.
func (app *application) start() {
	app.exit(app.run())
}

func (app *application) run() error {
	if len(app.args) == 0 {
		return errInvalidCmdline
	}

	if !output.ValidFormat(app.outputFormat) {
		return fmt.Errorf("%w: unknown output format %q", errInvalidCmdline, app.outputFormat)
	}

	command, cmdArgs := app.args[0], app.args[1:]

	if command == "version" {
		app.printVersion()

		return nil
	}

	if err := app.setupRPCClient(); err != nil {
		return err
	}

	return app.dispatch(command, cmdArgs)
}

// dispatch runs command. Commands taking an argument need exactly one.
func (app *application) dispatch(command string, cmdArgs []string) error {
	wantArgs := 0

	switch command {
	case "program", "press", "send":
		wantArgs = 1
	case "devices", "status", "logs":
	default:
		return fmt.Errorf("%w: unknown command %q", errInvalidCmdline, command)
	}

	if len(cmdArgs) != wantArgs {
		return fmt.Errorf("%w: %s takes %d argument(s)", errInvalidCmdline, command, wantArgs)
	}

	switch command {
	case "devices":
		return app.devicesRPC()
	case "status":
		return app.statusRPC()
	case "program":
		return app.programRPC(cmdArgs[0])
	case "press":
		return app.pressRPC(cmdArgs[0])
	case "send":
		if cmdArgs[0] == "-" {
			return app.sendLines(app.stdin)
		}

		return app.sendRPC(cmdArgs[0])
	default:
		return app.logsRPC()
	}
}

// exit terminates the application. If the provided error is not nil, it is printed to
// the standard error output. For an invalid command line, the usage is printed additionally.
func (app *application) exit(err error) {
	if err == nil {
		// Flush any buffered output before exiting
		if app.formatter != nil {
			_ = app.formatter.Flush()
		}

		app.exitFunc(0)

		return
	}

	app.formatter.WriteErr(err.Error() + "\n")

	if errors.Is(err, errInvalidCmdline) {
		fmt.Fprint(app.stderr, usageSynopsis)
		app.printFlagDefaults()
	}

	// Flush any buffered output before exiting with error
	_ = app.formatter.Flush()

	app.exitFunc(1)
}

func (app *application) printVersion() {
	app.formatter.WriteContent(output.Content{
		Type: output.TypeVersion,
		Data: "FPGA Control Client\n" + buildinfo.VersionString(),
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exit := func(code int) {
		stop()
		os.Exit(code)
	}

	newApp(ctx, os.Stdin, os.Stdout, os.Stderr, exit, os.Args).start()
}

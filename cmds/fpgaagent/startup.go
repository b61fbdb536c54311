// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"github.com/BlindspotSoftware/fpgactl/internal/config"
	"github.com/BlindspotSoftware/fpgactl/internal/fsm"
	"github.com/BlindspotSoftware/fpgactl/internal/images"
	"github.com/BlindspotSoftware/fpgactl/internal/logging"
	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/BlindspotSoftware/fpgactl/internal/metrics"
	"github.com/BlindspotSoftware/fpgactl/internal/supervisor"
	"github.com/BlindspotSoftware/fpgactl/internal/template"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// agentArgs carries the startup sequence's results from state to state.
type agentArgs struct {
	flags  flags
	logOut io.Writer

	// exec runs the programming tool. If nil, it is chosen from the configuration.
	exec programmer.Executor
	// terminal replaces the configured terminal if set.
	terminal func(sink logline.Sink, opts ...supervisor.Option) (*supervisor.Supervisor, error)

	cfg     config.Config
	logger  zerolog.Logger
	devices []string
	device  string
	metrics *metrics.Metrics
	hub     *logging.Hub
	catalog *images.Catalog
	runner  *programmer.Runner
	term    *supervisor.Supervisor
	agent   *agent.Agent

	// shutdown releases everything started so far, in reverse order.
	shutdown func()
}

func (a *agentArgs) onShutdown(f func()) {
	prev := a.shutdown
	a.shutdown = func() {
		f()

		if prev != nil {
			prev()
		}
	}
}

func observe(name string) {
	log.Debug().Str("step", name).Msg("Startup")
}

// startup is the first state of the agent's startup sequence.
var startup = fsm.Named("load config", nil, loadConfig)

// loadConfig reads the configuration file, applies the command line overrides
// and sets up logging.
func loadConfig(_ context.Context, a *agentArgs) (*agentArgs, fsm.State[*agentArgs], error) {
	var (
		cfg config.Config
		err error
	)

	if a.flags.config != "" {
		cfg, err = config.Load(a.flags.config)
	} else {
		cfg, err = config.LoadDefault()
	}

	logCfg := config.Default().Log
	if err == nil {
		logCfg = cfg.Log
	}

	if a.flags.verbose {
		logCfg.Level = "debug"
	}

	a.logger = logging.Setup(logging.Config{
		App:    "fpgaagent",
		Level:  logCfg.Level,
		Format: logCfg.Format,
		Color:  logCfg.Color,
		Out:    a.logOut,
	})

	if err != nil {
		return a, nil, err
	}

	if a.flags.device >= 0 {
		cfg.Device = a.flags.device
	}

	if a.flags.address != "" {
		cfg.Listen = a.flags.address
	}

	if a.flags.root != "" {
		cfg.Root = a.flags.root
	}

	if a.flags.verbose {
		cfg.Programmer.Verbose = true
	}

	if cfg.Root, err = filepath.Abs(cfg.Root); err != nil {
		return a, nil, err
	}

	a.cfg = cfg
	a.logger.Info().Str("config", a.flags.config).Str("root", cfg.Root).Msg("Configuration loaded")

	return a, fsm.Named("select device", observe, selectDevice), nil
}

// selectDevice enumerates the programming cables and selects the configured one.
// Without a usable cable the agent cannot program anything, so this is fatal.
func selectDevice(ctx context.Context, a *agentArgs) (*agentArgs, fsm.State[*agentArgs], error) {
	if a.exec == nil {
		a.exec = newExecutor(a.cfg)
	}

	devices, err := programmer.Enumerate(ctx, a.exec, a.cfg.Programmer.Tool)
	if err != nil {
		return a, nil, err
	}

	for i, d := range devices {
		a.logger.Info().Int("index", i).Str("device", d).Msg("Found programming cable")
	}

	device, err := programmer.Select(devices, a.cfg.Device)
	if err != nil {
		return a, nil, err
	}

	a.devices = devices
	a.device = device
	a.logger.Info().Str("device", device).Msg("Programming cable selected")

	return a, fsm.Named("load catalog", observe, loadCatalog), nil
}

func newExecutor(cfg config.Config) programmer.Executor { //nolint:ireturn
	remote := cfg.Programmer.Remote
	if remote == nil {
		return programmer.LocalExecutor{Dir: cfg.Root}
	}

	return &programmer.SSHExecutor{
		Host:                  remote.Host,
		Port:                  remote.Port,
		User:                  remote.User,
		KeyPath:               remote.Key,
		KnownHostsPath:        remote.KnownHosts,
		InsecureIgnoreHostKey: remote.Insecure,
		Timeout:               remote.Timeout,
	}
}

// loadCatalog resolves the bitstreams and builds the programming runner.
func loadCatalog(_ context.Context, a *agentArgs) (*agentArgs, fsm.State[*agentArgs], error) {
	catalog, err := images.NewCatalog(a.cfg.Root, a.cfg.Bitstreams, logging.NewAdapter(a.logger, "images"))
	if err != nil {
		return a, nil, err
	}

	for _, missing := range catalog.Missing() {
		a.logger.Warn().Str("bitstream", missing).Msg("Bitstream file not found, programming it will fail")
	}

	success, err := a.cfg.Programmer.SuccessMarker()
	if err != nil {
		return a, nil, err
	}

	failure, err := a.cfg.Programmer.ErrorMarker()
	if err != nil {
		return a, nil, err
	}

	a.catalog = catalog
	a.runner = &programmer.Runner{
		Tool:          a.cfg.Programmer.Tool,
		Mode:          a.cfg.Programmer.Mode,
		Exec:          a.exec,
		Timeout:       a.cfg.Programmer.Timeout,
		SuccessMarker: success,
		ErrorMarker:   failure,
		Verbose:       a.cfg.Programmer.Verbose,
		Logger:        logging.NewAdapter(a.logger, "programmer"),
	}

	return a, fsm.Named("start terminal", observe, startTerminal), nil
}

// startTerminal sets up the event fan-out and starts the JTAG-UART terminal.
func startTerminal(ctx context.Context, a *agentArgs) (*agentArgs, fsm.State[*agentArgs], error) {
	sinks := []logline.Sink{logging.NewDestination(a.logger.With().Str("component", "terminal").Logger())}

	var onDrop func()

	if a.cfg.Metrics {
		a.metrics = metrics.New()
		sinks = append(sinks, a.metrics)
		onDrop = a.metrics.RecordDroppedEvent
	}

	a.hub = logging.NewHub(logging.HubConfig{Sinks: sinks, OnDrop: onDrop})
	a.onShutdown(a.hub.Close)

	opts := []supervisor.Option{
		supervisor.WithLogger(logging.NewAdapter(a.logger, "supervisor")),
		supervisor.WithClassifier(logline.NewClassifier(a.cfg.Terminal.UnmatchedSeverity())),
	}

	if n := a.cfg.Terminal.MaxLine; n > 0 {
		opts = append(opts, supervisor.WithMaxLine(n))
	}

	open := a.terminal
	if open == nil {
		open = func(sink logline.Sink, opts ...supervisor.Option) (*supervisor.Supervisor, error) {
			// The terminal outlives ctx, it is stopped gracefully on shutdown.
			return openTerminal(context.WithoutCancel(ctx), a.cfg, a.device, sink, opts...)
		}
	}

	term, err := open(a.hub, opts...)
	if err != nil {
		return a, nil, err
	}

	a.term = term
	a.onShutdown(func() {
		if err := term.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("Stopping terminal")
		}
	})

	a.metrics.SetTerminalRunning(true)

	go func() {
		<-term.Done()
		a.metrics.SetTerminalRunning(false)

		if err := term.Err(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Str("terminal", term.Name()).Msg("Terminal exited, commands will fail")
		} else {
			a.logger.Info().Str("terminal", term.Name()).Msg("Terminal exited")
		}
	}()

	return a, fsm.Named("start agent", observe, startAgent), nil
}

// openTerminal attaches to the configured serial port or spawns the terminal
// program with its placeholders expanded.
func openTerminal(ctx context.Context, cfg config.Config, device string, sink logline.Sink,
	opts ...supervisor.Option,
) (*supervisor.Supervisor, error) {
	if s := cfg.Terminal.Serial; s != nil {
		return supervisor.OpenSerial(supervisor.SerialConfig{Port: s.Port, Baud: s.Baud}, sink, opts...)
	}

	vars := map[string]string{template.VarDevice: device, template.VarRoot: cfg.Root}

	cmdline, err := template.ExpandAll(
		append([]string{cfg.Terminal.Binary, cfg.Terminal.WorkDir}, cfg.Terminal.Args...), vars)
	if err != nil {
		return nil, fmt.Errorf("terminal command line: %w", err)
	}

	workDir := cmdline[1]
	if workDir == "" {
		workDir = cfg.Root
	}

	return supervisor.Start(ctx, supervisor.Config{
		Binary:          cmdline[0],
		Args:            cmdline[2:],
		WorkDir:         workDir,
		GracefulTimeout: cfg.Terminal.GracefulTimeout,
	}, sink, opts...)
}

// startAgent builds the agent coordinating terminal and programmer.
func startAgent(_ context.Context, a *agentArgs) (*agentArgs, fsm.State[*agentArgs], error) {
	actions := make(map[string]agent.Action, len(a.cfg.Actions))
	for name, act := range a.cfg.Actions {
		actions[name] = agent.Action{Command: act.Command, Image: act.Image}
	}

	ag, err := agent.New(agent.Options{
		Devices:      a.devices,
		Device:       a.device,
		Terminal:     a.term,
		Programmer:   a.runner,
		Catalog:      a.catalog,
		Actions:      actions,
		InitialImage: a.cfg.InitialImage,
		Events:       a.hub,
		Metrics:      a.metrics,
		Logger:       logging.NewAdapter(a.logger, "agent"),
	})
	if err != nil {
		return a, nil, err
	}

	a.agent = ag
	a.onShutdown(ag.Close)

	a.logger.Info().Str("image", ag.State().Image).Msg("Agent ready")

	return a, nil, nil
}

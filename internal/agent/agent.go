// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package agent coordinates the terminal and the programming tool on behalf of
// the RPC service. It keeps the state presented to clients: the selected device,
// the current status picture and the outcome of the last programming operation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/BlindspotSoftware/fpgactl/internal/metrics"
	"github.com/BlindspotSoftware/fpgactl/internal/supervisor"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
)

var (
	// ErrBusy is returned if a programming operation is already in progress.
	ErrBusy = errors.New("programming operation in progress")
	// ErrUnknownAction is returned for an action name that is not configured.
	ErrUnknownAction = errors.New("unknown action")
)

// Terminal is the supervised terminal commands are sent to.
type Terminal interface {
	Send(text string) error
	Stats() supervisor.Stats
}

// Programmer writes a bitstream to a device.
type Programmer interface {
	Program(ctx context.Context, device, imagePath string) (programmer.Report, error)
}

// Catalog resolves bitstream selectors and status pictures.
type Catalog interface {
	Resolve(selector string) (string, error)
	Selectors() []string
	StatusImage(file string) string
}

// Logger receives the agent's diagnostics.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Action is a terminal command bound to a name, together with the status
// picture shown after it was sent.
type Action struct {
	Command string
	Image   string
}

// Options configure an Agent.
type Options struct {
	Devices      []string // Devices are all enumerated programming cables.
	Device       string   // Device is the cable used for programming.
	Terminal     Terminal
	Programmer   Programmer
	Catalog      Catalog
	Actions      map[string]Action
	InitialImage string // InitialImage is the status picture shown at startup.

	Events  logline.Sink     // Events receives the agent's own events. Optional.
	Metrics *metrics.Metrics // Optional.
	Logger  Logger           // Optional.
}

// State is what a client sees of the agent.
type State struct {
	Device       string             `json:"device"`
	Image        string             `json:"image"`
	LastAction   string             `json:"last_action,omitempty"`
	Programming  bool               `json:"programming"`
	LastProgram  *programmer.Report `json:"last_program,omitempty"`
	ProgramError string             `json:"program_error,omitempty"`
}

// Status extends State with the terminal's statistics and the available choices.
type Status struct {
	State

	Terminal   supervisor.Stats `json:"terminal"`
	Devices    []string         `json:"devices"`
	Bitstreams []string         `json:"bitstreams"`
	Actions    []string         `json:"actions"`
}

// ProgramResult is delivered once a programming operation has finished.
type ProgramResult struct {
	Report programmer.Report
	Err    error
}

// Agent is safe for concurrent use.
type Agent struct {
	devices  []string
	term     Terminal
	prog     Programmer
	catalog  Catalog
	actions  map[string]Action
	events   logline.Sink
	metrics  *metrics.Metrics
	log      Logger
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu    sync.Mutex
	state State
}

// New returns an Agent for opts.
func New(opts Options) (*Agent, error) {
	switch {
	case opts.Terminal == nil:
		return nil, errors.New("agent: terminal is not set")
	case opts.Programmer == nil:
		return nil, errors.New("agent: programmer is not set")
	case opts.Catalog == nil:
		return nil, errors.New("agent: catalog is not set")
	}

	a := &Agent{
		devices: slices.Clone(opts.Devices),
		term:    opts.Terminal,
		prog:    opts.Programmer,
		catalog: opts.Catalog,
		actions: maps.Clone(opts.Actions),
		events:  opts.Events,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}

	if a.events == nil {
		a.events = logline.SinkFunc(func(logline.Event) {})
	}

	if a.log == nil {
		a.log = noopLogger{}
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.state.Device = opts.Device
	if opts.InitialImage != "" {
		a.state.Image = a.catalog.StatusImage(opts.InitialImage)
	}

	return a, nil
}

// Close cancels a running programming operation and waits for it to finish.
func (a *Agent) Close() {
	a.cancel()
	a.inflight.Wait()
}

// Devices returns all enumerated programming cables.
func (a *Agent) Devices() []string {
	return slices.Clone(a.devices)
}

// Send forwards cmd to the terminal verbatim. A failure is logged and returned,
// it never affects the agent's state.
func (a *Agent) Send(cmd string) error {
	err := a.term.Send(cmd)
	a.metrics.RecordCommand(err)

	if err != nil {
		a.log.Error("agent: sending command failed", "error", err)
		a.emit(logline.Error, fmt.Sprintf("sending command failed: %v", err))

		return err
	}

	a.log.Info("agent: command sent", "bytes", len(cmd))

	return nil
}

// Press sends the command bound to action and switches the status picture to
// the action's picture. The picture is switched even if sending failed, the
// send error is returned together with the new state.
func (a *Agent) Press(action string) (State, error) {
	act, ok := a.actions[action]
	if !ok {
		return a.State(), fmt.Errorf("%w: %q, known: %v", ErrUnknownAction, action, a.actionNames())
	}

	sendErr := a.Send(act.Command)
	image := a.catalog.StatusImage(act.Image)

	a.mu.Lock()
	a.state.LastAction = action
	a.state.Image = image
	state := a.snapshot()
	a.mu.Unlock()

	a.log.Info("agent: action pressed", "action", action, "image", image)

	return state, sendErr
}

// Program starts writing the bitstream named by selector to the selected device.
// The result is delivered on the returned channel, which is closed afterwards.
//
// Only one operation runs at a time, a concurrent request fails with ErrBusy.
// An unknown selector fails with an error wrapping images.ErrUnknownImage. Both
// are delivered on the channel without starting an operation.
func (a *Agent) Program(selector string) <-chan ProgramResult {
	results := make(chan ProgramResult, 1)

	path, err := a.catalog.Resolve(selector)
	if err != nil {
		results <- ProgramResult{Err: err}
		close(results)

		return results
	}

	a.mu.Lock()
	if a.state.Programming {
		a.mu.Unlock()

		results <- ProgramResult{Err: ErrBusy}
		close(results)

		return results
	}

	a.state.Programming = true
	device := a.state.Device
	a.inflight.Add(1)
	a.mu.Unlock()

	a.log.Info("agent: programming started", "bitstream", selector, "device", device)
	a.emit(logline.Info, fmt.Sprintf("programming %s via %s", selector, device))

	go func() {
		defer a.inflight.Done()
		defer close(results)

		report, err := a.prog.Program(a.ctx, device, path)
		a.finish(selector, report, err)

		results <- ProgramResult{Report: report, Err: err}
	}()

	return results
}

func (a *Agent) finish(selector string, report programmer.Report, err error) {
	a.metrics.RecordProgram(report.Outcome, report.Duration)

	a.mu.Lock()
	a.state.Programming = false
	a.state.LastProgram = &report
	a.state.ProgramError = ""

	if err != nil {
		a.state.ProgramError = err.Error()
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Error("agent: programming failed", "bitstream", selector, "id", report.ID, "error", err)
		a.emit(logline.Error, fmt.Sprintf("programming %s failed: %v", selector, err))

		return
	}

	a.log.Info("agent: programming finished", "bitstream", selector, "id", report.ID,
		"duration", report.Duration.Round(time.Millisecond))
	a.emit(logline.Info, fmt.Sprintf("programming %s succeeded", selector))
}

// State returns a snapshot of the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.snapshot()
}

// Status returns the state together with the terminal's statistics.
func (a *Agent) Status() Status {
	return Status{
		State:      a.State(),
		Terminal:   a.term.Stats(),
		Devices:    a.Devices(),
		Bitstreams: a.catalog.Selectors(),
		Actions:    a.actionNames(),
	}
}

// snapshot copies the state. a.mu must be held.
func (a *Agent) snapshot() State {
	s := a.state
	if s.LastProgram != nil {
		report := *s.LastProgram
		s.LastProgram = &report
	}

	return s
}

func (a *Agent) actionNames() []string {
	return slices.Sorted(maps.Keys(a.actions))
}

func (a *Agent) emit(sev logline.Severity, text string) {
	a.events.Emit(logline.Event{
		Time:     time.Now(),
		Severity: sev,
		Text:     text,
		Source:   "agent",
	})
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/images"
	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/BlindspotSoftware/fpgactl/internal/supervisor"
	"github.com/BlindspotSoftware/fpgactl/internal/test/fakes"
	"github.com/BlindspotSoftware/fpgactl/internal/test/mock"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
	"github.com/google/go-cmp/cmp"
)

const successOutput = "Info: Quartus Prime Programmer was successful. 0 errors, 0 warnings\n"

type env struct {
	agent   *Agent
	console *mock.Console
	term    *supervisor.Supervisor
	exec    *fakes.FakeExecutor
	events  *fakes.RecordingSink
	root    string
}

// newEnv builds an agent around an attached mock console and a fake programming
// tool. The root holds both default bitstreams and only the trusted picture.
func newEnv(t *testing.T, exec *fakes.FakeExecutor) *env {
	t.Helper()

	root := t.TempDir()
	for _, f := range []string{"sofs/tpg_colour_bars.sof", "sofs/tpg_grayscale_bars.sof", "images/trusted.png"} {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	catalog, err := images.NewCatalog(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	console := mock.NewConsole()
	term := supervisor.Attach("console", console, nil)
	events := &fakes.RecordingSink{}

	a, err := New(Options{
		Devices:    []string{"USB-Blaster [1-1]", "USB-Blaster [1-2]"},
		Device:     "USB-Blaster [1-1]",
		Terminal:   term,
		Programmer: &programmer.Runner{Exec: exec},
		Catalog:    catalog,
		Actions: map[string]Action{
			"original":  {Command: "4", Image: "trusted.png"},
			"malicious": {Command: "3", Image: "malware.png"},
		},
		InitialImage: "trusted.png",
		Events:       events,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(func() {
		a.Close()
		term.Stop()
	})

	return &env{agent: a, console: console, term: term, exec: exec, events: events, root: root}
}

func wait(t *testing.T, results <-chan ProgramResult) ProgramResult {
	t.Helper()

	select {
	case res, ok := <-results:
		if !ok {
			t.Fatal("result channel closed without a result")
		}

		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no programming result")
	}

	return ProgramResult{}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() error = nil without terminal")
	}
}

func TestInitialState(t *testing.T) {
	e := newEnv(t, &fakes.FakeExecutor{})

	got := e.agent.State()
	want := State{Device: "USB-Blaster [1-1]", Image: filepath.Join(e.root, "images", "trusted.png")}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("State() mismatch (-want +got):\n%s", diff)
	}
}

func TestSend(t *testing.T) {
	e := newEnv(t, &fakes.FakeExecutor{})

	if err := e.agent.Send("4"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := e.console.Received(); got != "4" {
		t.Errorf("console received %q, want %q", got, "4")
	}

	if err := e.term.Stop(); err != nil {
		t.Fatal(err)
	}

	err := e.agent.Send("3")
	if !errors.Is(err, supervisor.ErrWrite) {
		t.Fatalf("Send() after stop error = %v, want ErrWrite", err)
	}

	events := e.events.Events()
	if len(events) != 1 || events[0].Severity != logline.Error || events[0].Source != "agent" {
		t.Errorf("events = %+v, want one error from the agent", events)
	}
}

func TestPress(t *testing.T) {
	e := newEnv(t, &fakes.FakeExecutor{})

	state, err := e.agent.Press("malicious")
	if err != nil {
		t.Fatalf("Press(malicious) error = %v", err)
	}

	if state.Image != images.Placeholder || state.LastAction != "malicious" {
		t.Errorf("state = %+v, want placeholder picture for the missing malware.png", state)
	}

	state, err = e.agent.Press("original")
	if err != nil {
		t.Fatalf("Press(original) error = %v", err)
	}

	if want := filepath.Join(e.root, "images", "trusted.png"); state.Image != want {
		t.Errorf("Image = %q, want %q", state.Image, want)
	}

	if got := e.console.Received(); got != "34" {
		t.Errorf("console received %q, want %q", got, "34")
	}

	if _, err := e.agent.Press("reboot"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Press(reboot) error = %v, want ErrUnknownAction", err)
	}
}

func TestPressSwitchesPictureEvenIfSendFails(t *testing.T) {
	e := newEnv(t, &fakes.FakeExecutor{})
	e.term.Stop()

	state, err := e.agent.Press("malicious")
	if !errors.Is(err, supervisor.ErrWrite) {
		t.Fatalf("Press() error = %v, want ErrWrite", err)
	}

	if state.LastAction != "malicious" {
		t.Errorf("state = %+v, want the action recorded", state)
	}
}

func TestProgram(t *testing.T) {
	exec := &fakes.FakeExecutor{Default: programmer.Output{Stdout: []byte(successOutput)}}
	e := newEnv(t, exec)

	res := wait(t, e.agent.Program("colour-bars"))
	if res.Err != nil {
		t.Fatalf("Program() error = %v", res.Err)
	}

	calls := exec.Invocations()
	if len(calls) != 1 {
		t.Fatalf("tool invoked %d times, want 1", len(calls))
	}

	wantImage := "p;" + filepath.Join(e.root, "sofs", "tpg_colour_bars.sof")
	if got := calls[0][len(calls[0])-1]; got != wantImage {
		t.Errorf("image argument = %q, want %q", got, wantImage)
	}

	if calls[0][1] != "--cable=USB-Blaster [1-1]" {
		t.Errorf("cable argument = %q", calls[0][1])
	}

	state := e.agent.State()
	if state.Programming || state.LastProgram == nil || state.LastProgram.Outcome != programmer.OutcomeSuccess {
		t.Errorf("state = %+v, want a finished successful operation", state)
	}

	if state.LastProgram.ID != res.Report.ID {
		t.Error("state does not carry the reported operation")
	}
}

func TestProgramFailure(t *testing.T) {
	exec := &fakes.FakeExecutor{Default: programmer.Output{Stdout: []byte("Error: can't access JTAG chain\n"), ExitCode: 3}}
	e := newEnv(t, exec)

	res := wait(t, e.agent.Program("grayscale-bars"))

	var opErr *programmer.OperationError
	if !errors.As(res.Err, &opErr) || opErr.Kind != programmer.KindExitStatus {
		t.Fatalf("Program() error = %v, want an exit-status OperationError", res.Err)
	}

	if state := e.agent.State(); state.ProgramError == "" {
		t.Error("State().ProgramError is empty after a failure")
	}

	texts := strings.Join(e.events.Texts(), "\n")
	if !strings.Contains(texts, "programming grayscale-bars failed") {
		t.Errorf("events %q do not mirror the failure", texts)
	}
}

func TestProgramUnknownSelector(t *testing.T) {
	exec := &fakes.FakeExecutor{}
	e := newEnv(t, exec)

	res := wait(t, e.agent.Program("rainbow"))
	if !errors.Is(res.Err, images.ErrUnknownImage) {
		t.Fatalf("Program() error = %v, want ErrUnknownImage", res.Err)
	}

	if len(exec.Invocations()) != 0 {
		t.Error("tool invoked for an unknown selector")
	}
}

func TestProgramBusy(t *testing.T) {
	exec := &fakes.FakeExecutor{
		Default: programmer.Output{Stdout: []byte(successOutput)},
		Block:   make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	e := newEnv(t, exec)

	first := e.agent.Program("colour-bars")
	<-exec.Started

	if !e.agent.State().Programming {
		t.Error("State().Programming = false during an operation")
	}

	second := wait(t, e.agent.Program("grayscale-bars"))
	if !errors.Is(second.Err, ErrBusy) {
		t.Fatalf("concurrent Program() error = %v, want ErrBusy", second.Err)
	}

	close(exec.Block)

	if res := wait(t, first); res.Err != nil {
		t.Fatalf("first Program() error = %v", res.Err)
	}

	// Once finished, the next operation is accepted.
	exec.Block = nil

	if res := wait(t, e.agent.Program("grayscale-bars")); res.Err != nil {
		t.Errorf("Program() after completion error = %v", res.Err)
	}
}

func TestCloseCancelsOperation(t *testing.T) {
	exec := &fakes.FakeExecutor{Block: make(chan struct{}), Started: make(chan struct{}, 1)}
	e := newEnv(t, exec)

	results := e.agent.Program("colour-bars")
	<-exec.Started

	e.agent.Close()

	res := wait(t, results)
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Program() error = %v, want context.Canceled", res.Err)
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t, &fakes.FakeExecutor{})

	if err := e.agent.Send("4"); err != nil {
		t.Fatal(err)
	}

	st := e.agent.Status()

	if st.Terminal.Status != "running" || st.Terminal.Sent != 1 {
		t.Errorf("Terminal = %+v", st.Terminal)
	}

	if diff := cmp.Diff([]string{"colour-bars", "grayscale-bars"}, st.Bitstreams); diff != "" {
		t.Errorf("Bitstreams mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"malicious", "original"}, st.Actions); diff != "" {
		t.Errorf("Actions mismatch (-want +got):\n%s", diff)
	}

	if len(st.Devices) != 2 {
		t.Errorf("Devices = %v", st.Devices)
	}
}

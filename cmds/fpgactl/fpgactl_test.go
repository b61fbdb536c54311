// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// fakeAgent serves canned answers. Program fails for every bitstream but
// colour-bars, Press for every action but original.
type fakeAgent struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAgent) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sent
}

func encode(v any) *structpb.Struct {
	msg, err := controlv1.Encode(v)
	if err != nil {
		panic(err)
	}

	return msg
}

func withDetail(code connect.Code, err error, detail any) *connect.Error {
	cerr := connect.NewError(code, err)

	d, detErr := connect.NewErrorDetail(encode(detail))
	if detErr != nil {
		panic(detErr)
	}

	cerr.AddDetail(d)

	return cerr
}

var testReport = programmer.Report{
	ID:       uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"),
	Device:   "USB-Blaster [1-1]",
	Image:    "/srv/fpga/sofs/tpg_colour_bars.sof",
	Duration: 2500 * time.Millisecond,
	Outcome:  programmer.OutcomeSuccess,
	Stdout:   "Info: Quartus Prime Programmer was successful. 0 errors, 0 warnings",
}

func (f *fakeAgent) Devices(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return connect.NewResponse(encode(controlv1.DeviceList{
		Devices:  []string{"USB-Blaster [1-1]", "DE-SoC [1-2]"},
		Selected: "DE-SoC [1-2]",
	})), nil
}

func (f *fakeAgent) Send(_ context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, req.Msg.GetValue())

	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (f *fakeAgent) Press(_ context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	if req.Msg.GetValue() != "original" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("unknown action"))
	}

	return connect.NewResponse(encode(agent.State{Device: "DE-SoC [1-2]", Image: "images/trusted.png", LastAction: "original"})), nil
}

func (f *fakeAgent) Program(_ context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	if req.Msg.GetValue() == "colour-bars" {
		return connect.NewResponse(encode(testReport)), nil
	}

	failed := testReport
	failed.Outcome = string(programmer.KindExitStatus)
	failed.ExitCode = 2
	failed.Stdout = ""

	return nil, withDetail(connect.CodeFailedPrecondition, errors.New("programming operation failed"), failed)
}

func (f *fakeAgent) Status(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return connect.NewResponse(encode(agent.Status{
		State:      agent.State{Device: "DE-SoC [1-2]", Image: "images/trusted.png"},
		Bitstreams: []string{"colour-bars", "grayscale-bars"},
		Actions:    []string{"malicious", "original"},
	})), nil
}

func (f *fakeAgent) Logs(_ context.Context, _ *connect.Request[emptypb.Empty], stream *connect.ServerStream[structpb.Struct]) error {
	at := time.Date(2025, 3, 1, 9, 15, 0, 0, time.Local)

	for _, ev := range []controlv1.Event{
		{Time: at, Severity: "info", Text: "Boot complete"},
		{Time: at.Add(time.Second), Severity: "error", Text: "Tamper detected"},
	} {
		if err := stream.Send(encode(ev)); err != nil {
			return err
		}
	}

	return nil
}

type exitCode int

type result struct {
	code   int
	stdout string
	stderr string
}

func startAgent(t *testing.T) (*fakeAgent, string) {
	t.Helper()

	fake := &fakeAgent{}
	mux := http.NewServeMux()
	mux.Handle(controlv1.NewControlServiceHandler(fake))

	srv := httptest.NewServer(h2c.NewHandler(mux, &http2.Server{}))
	t.Cleanup(srv.Close)

	return fake, strings.TrimPrefix(srv.URL, "http://")
}

// runApp runs fpgactl with args and captures the exit code.
func runApp(t *testing.T, stdin string, args ...string) (res result) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	defer func() {
		res.stdout, res.stderr = stdout.String(), stderr.String()

		if r := recover(); r != nil {
			code, ok := r.(exitCode)
			if !ok {
				panic(r)
			}

			res.code = int(code)
		}
	}()

	exit := func(code int) { panic(exitCode(code)) }

	newApp(context.Background(), strings.NewReader(stdin), &stdout, &stderr, exit, append([]string{"fpgactl"}, args...)).start()
	t.Fatal("application did not exit")

	return res
}

func TestCommands(t *testing.T) {
	_, addr := startAgent(t)

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout []string
		wantStderr []string
	}{
		{
			name:       "devices",
			args:       []string{"devices"},
			wantStdout: []string{"1) USB-Blaster [1-1]\n2) DE-SoC [1-2] (selected)\n"},
		},
		{
			name:       "status",
			args:       []string{"status"},
			wantStdout: []string{"colour-bars, grayscale-bars", "DE-SoC [1-2]"},
		},
		{
			name:       "program",
			args:       []string{"program", "colour-bars"},
			wantStdout: []string{"success: /srv/fpga/sofs/tpg_colour_bars.sof via USB-Blaster [1-1] in 2.5s (exit code 0)"},
		},
		{
			name:       "failed program prints the report",
			args:       []string{"program", "grayscale-bars"},
			wantCode:   1,
			wantStderr: []string{"exit-status: /srv/fpga/sofs/tpg_colour_bars.sof", "(exit code 2)", "failed_precondition: programming operation failed"},
		},
		{
			name:       "press",
			args:       []string{"press", "original"},
			wantStdout: []string{"last action:", "original"},
		},
		{
			name:       "press unknown action",
			args:       []string{"press", "reboot"},
			wantCode:   1,
			wantStderr: []string{"invalid_argument: unknown action"},
		},
		{
			name:       "logs",
			args:       []string{"-no-color", "logs"},
			wantStdout: []string{"09:15:00.000 INFO  Boot complete\n09:15:01.000 ERROR Tamper detected\n"},
		},
		{
			name:       "verbose output names the server",
			args:       []string{"-v", "-no-color", "program", "colour-bars"},
			wantStdout: []string{"# connected to " + addr, "--- stdout\nInfo: Quartus Prime Programmer was successful."},
		},
		{
			name:       "missing argument",
			args:       []string{"program"},
			wantCode:   1,
			wantStderr: []string{"program takes 1 argument(s)", "SYNOPSIS:"},
		},
		{
			name:       "unknown command",
			args:       []string{"reboot"},
			wantCode:   1,
			wantStderr: []string{`unknown command "reboot"`},
		},
		{
			name:       "unknown output format",
			args:       []string{"-f", "xml", "devices"},
			wantCode:   1,
			wantStderr: []string{`unknown output format "xml"`},
		},
		{
			name:       "no command",
			wantCode:   1,
			wantStderr: []string{"invalid command line", "OPTIONS:"},
		},
		{
			name:       "version needs no agent",
			args:       []string{"-s", "localhost:1", "version"},
			wantStdout: []string{"FPGA Control Client\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runApp(t, "", append([]string{"-s", addr}, tt.args...)...)

			if res.code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr %q)", res.code, tt.wantCode, res.stderr)
			}

			for _, want := range tt.wantStdout {
				if !strings.Contains(res.stdout, want) {
					t.Errorf("stdout %q does not contain %q", res.stdout, want)
				}
			}

			for _, want := range tt.wantStderr {
				if !strings.Contains(res.stderr, want) {
					t.Errorf("stderr %q does not contain %q", res.stderr, want)
				}
			}
		})
	}
}

func TestSendFromStdin(t *testing.T) {
	fake, addr := startAgent(t)

	res := runApp(t, "3\r\n\n4\n", "-s", addr, "send", "-")
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr %q", res.code, res.stderr)
	}

	if diff := cmp.Diff([]string{"3", "4"}, fake.Sent()); diff != "" {
		t.Errorf("sent commands mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONOutput(t *testing.T) {
	_, addr := startAgent(t)

	res := runApp(t, "", "-s", addr, "-f", "json", "devices")
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr %q", res.code, res.stderr)
	}

	var rec struct {
		ContentType string               `json:"contentType"`
		Data        controlv1.DeviceList `json:"data"`
	}

	if err := json.Unmarshal([]byte(res.stdout), &rec); err != nil {
		t.Fatalf("stdout is no JSON record: %v\n%s", err, res.stdout)
	}

	if rec.ContentType != "device-list" || rec.Data.Selected != "DE-SoC [1-2]" {
		t.Errorf("record = %+v", rec)
	}
}

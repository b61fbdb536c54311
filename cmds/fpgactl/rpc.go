// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"connectrpc.com/connect"
	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"github.com/BlindspotSoftware/fpgactl/internal/output"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// callContext returns the context for a single unary request.
func (app *application) callContext() (context.Context, context.CancelFunc) {
	if app.timeout > 0 {
		return context.WithTimeout(app.ctx, app.timeout)
	}

	return context.WithCancel(app.ctx)
}

func (app *application) metadata(msg string, kv ...string) map[string]string {
	md := map[string]string{
		"server": app.serverAddr,
		"msg":    msg,
	}

	for i := 0; i+1 < len(kv); i += 2 {
		md[kv[i]] = kv[i+1]
	}

	return md
}

func (app *application) devicesRPC() error {
	ctx, cancel := app.callContext()
	defer cancel()

	res, err := app.rpcClient.Devices(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}

	var devices controlv1.DeviceList
	if err := controlv1.Decode(res.Msg, &devices); err != nil {
		return err
	}

	app.formatter.WriteContent(output.Content{
		Type:     output.TypeDeviceList,
		Data:     devices,
		Metadata: app.metadata("Devices Response"),
	})

	return nil
}

func (app *application) statusRPC() error {
	ctx, cancel := app.callContext()
	defer cancel()

	res, err := app.rpcClient.Status(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}

	var status agent.Status
	if err := controlv1.Decode(res.Msg, &status); err != nil {
		return err
	}

	app.formatter.WriteContent(output.Content{
		Type:     output.TypeStatus,
		Data:     status,
		Metadata: app.metadata("Status Response"),
	})

	return nil
}

// programRPC writes a bitstream. If the agent reports a failed operation, the
// report with the tool's output is printed before the error.
func (app *application) programRPC(bitstream string) error {
	ctx, cancel := app.callContext()
	defer cancel()

	md := app.metadata("Program Response", "bitstream", bitstream)

	app.log.Debug().Str("bitstream", bitstream).Msg("Programming, this may take a while")

	res, err := app.rpcClient.Program(ctx, connect.NewRequest(wrapperspb.String(bitstream)))
	if err != nil {
		var report programmer.Report
		if controlv1.DecodeErrorDetail(err, &report) {
			app.formatter.WriteContent(output.Content{Type: output.TypeReport, Data: report, IsError: true, Metadata: md})
		}

		return err
	}

	var report programmer.Report
	if err := controlv1.Decode(res.Msg, &report); err != nil {
		return err
	}

	app.formatter.WriteContent(output.Content{Type: output.TypeReport, Data: report, Metadata: md})

	return nil
}

// pressRPC triggers an action. If the command could not be sent, the picture
// was switched anyway and the new state is printed before the error.
func (app *application) pressRPC(action string) error {
	ctx, cancel := app.callContext()
	defer cancel()

	md := app.metadata("Press Response", "action", action)

	res, err := app.rpcClient.Press(ctx, connect.NewRequest(wrapperspb.String(action)))
	if err != nil {
		var state agent.State
		if controlv1.DecodeErrorDetail(err, &state) {
			app.formatter.WriteContent(output.Content{Type: output.TypeState, Data: state, IsError: true, Metadata: md})
		}

		return err
	}

	var state agent.State
	if err := controlv1.Decode(res.Msg, &state); err != nil {
		return err
	}

	app.formatter.WriteContent(output.Content{Type: output.TypeState, Data: state, Metadata: md})

	return nil
}

func (app *application) sendRPC(cmd string) error {
	ctx, cancel := app.callContext()
	defer cancel()

	if _, err := app.rpcClient.Send(ctx, connect.NewRequest(wrapperspb.String(cmd))); err != nil {
		return err
	}

	app.log.Debug().Str("command", cmd).Msg("Command sent")

	return nil
}

// sendLines sends every non-empty line of r as a command. It stops at the
// first failure.
func (app *application) sendLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		cmd := strings.TrimRight(scanner.Text(), "\r")
		if cmd == "" {
			continue
		}

		if err := app.sendRPC(cmd); err != nil {
			return fmt.Errorf("sending %q: %w", cmd, err)
		}
	}

	return scanner.Err()
}

// logsRPC prints the terminal's events until the agent ends the stream or the
// application is interrupted.
func (app *application) logsRPC() error {
	ctx, cancel := context.WithCancel(app.ctx)
	defer cancel()

	stream, err := app.rpcClient.Logs(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	md := app.metadata("Logs Response")

	for stream.Receive() {
		var ev controlv1.Event
		if err := controlv1.Decode(stream.Msg(), &ev); err != nil {
			return fmt.Errorf("receiving RPC message: %w", err)
		}

		app.formatter.WriteContent(output.Content{Type: output.TypeEvent, Data: ev, Metadata: md})
	}

	err = stream.Err()
	if err == nil || errors.Is(err, context.Canceled) || app.ctx.Err() != nil {
		app.log.Debug().Msg("Log stream ended")

		return nil
	}

	return fmt.Errorf("receiving RPC message: %w", err)
}

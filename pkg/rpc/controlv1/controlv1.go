// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package controlv1 defines the fpgactl.v1.ControlService connect API between
// fpgactl and fpgaagent.
//
// The messages are protobuf well-known types. Structured payloads travel as
// google.protobuf.Struct and are converted from and to the Go types in this
// package with [Encode] and [Decode].
package controlv1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified name of the ControlService.
const ServiceName = "fpgactl.v1.ControlService"

// Procedure paths of the ControlService.
const (
	DevicesProcedure = "/" + ServiceName + "/Devices"
	SendProcedure    = "/" + ServiceName + "/Send"
	PressProcedure   = "/" + ServiceName + "/Press"
	ProgramProcedure = "/" + ServiceName + "/Program"
	StatusProcedure  = "/" + ServiceName + "/Status"
	LogsProcedure    = "/" + ServiceName + "/Logs"
)

// ControlServiceClient is a client for the fpgactl.v1.ControlService service.
type ControlServiceClient interface {
	// Devices lists the enumerated programming cables and the selected one.
	Devices(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error)
	// Send writes a command to the terminal verbatim.
	Send(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error)
	// Press triggers a named action and returns the new state.
	Press(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	// Program writes the named bitstream and returns the report once finished.
	Program(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	// Status returns the agent's state and terminal statistics.
	Status(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error)
	// Logs follows the classified terminal output.
	Logs(context.Context, *connect.Request[emptypb.Empty]) (*connect.ServerStreamForClient[structpb.Struct], error)
}

// NewControlServiceClient constructs a client for the fpgactl.v1.ControlService
// service. The baseURL is the agent's address including the scheme, e.g.
// http://localhost:1024.
func NewControlServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) ControlServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")

	return &controlServiceClient{
		devices: connect.NewClient[emptypb.Empty, structpb.Struct](
			httpClient, baseURL+DevicesProcedure,
			append(opts, connect.WithIdempotency(connect.IdempotencyNoSideEffects))...,
		),
		send:    connect.NewClient[wrapperspb.StringValue, emptypb.Empty](httpClient, baseURL+SendProcedure, opts...),
		press:   connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+PressProcedure, opts...),
		program: connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+ProgramProcedure, opts...),
		status: connect.NewClient[emptypb.Empty, structpb.Struct](
			httpClient, baseURL+StatusProcedure,
			append(opts, connect.WithIdempotency(connect.IdempotencyNoSideEffects))...,
		),
		logs: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+LogsProcedure, opts...),
	}
}

type controlServiceClient struct {
	devices *connect.Client[emptypb.Empty, structpb.Struct]
	send    *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	press   *connect.Client[wrapperspb.StringValue, structpb.Struct]
	program *connect.Client[wrapperspb.StringValue, structpb.Struct]
	status  *connect.Client[emptypb.Empty, structpb.Struct]
	logs    *connect.Client[emptypb.Empty, structpb.Struct]
}

func (c *controlServiceClient) Devices(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return c.devices.CallUnary(ctx, req)
}

func (c *controlServiceClient) Send(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
	return c.send.CallUnary(ctx, req)
}

func (c *controlServiceClient) Press(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return c.press.CallUnary(ctx, req)
}

func (c *controlServiceClient) Program(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return c.program.CallUnary(ctx, req)
}

func (c *controlServiceClient) Status(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return c.status.CallUnary(ctx, req)
}

func (c *controlServiceClient) Logs(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.ServerStreamForClient[structpb.Struct], error) {
	return c.logs.CallServerStream(ctx, req)
}

// ControlServiceHandler is an implementation of the fpgactl.v1.ControlService service.
type ControlServiceHandler interface {
	Devices(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error)
	Send(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error)
	Press(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	Program(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	Status(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error)
	Logs(context.Context, *connect.Request[emptypb.Empty], *connect.ServerStream[structpb.Struct]) error
}

// NewControlServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewControlServiceHandler(svc ControlServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	readOnly := append(opts, connect.WithIdempotency(connect.IdempotencyNoSideEffects))

	devices := connect.NewUnaryHandler(DevicesProcedure, svc.Devices, readOnly...)
	send := connect.NewUnaryHandler(SendProcedure, svc.Send, opts...)
	press := connect.NewUnaryHandler(PressProcedure, svc.Press, opts...)
	program := connect.NewUnaryHandler(ProgramProcedure, svc.Program, opts...)
	status := connect.NewUnaryHandler(StatusProcedure, svc.Status, readOnly...)
	logs := connect.NewServerStreamHandler(LogsProcedure, svc.Logs, opts...)

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DevicesProcedure:
			devices.ServeHTTP(w, r)
		case SendProcedure:
			send.ServeHTTP(w, r)
		case PressProcedure:
			press.ServeHTTP(w, r)
		case ProgramProcedure:
			program.ServeHTTP(w, r)
		case StatusProcedure:
			status.ServeHTTP(w, r)
		case LogsProcedure:
			logs.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

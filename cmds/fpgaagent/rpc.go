// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"github.com/BlindspotSoftware/fpgactl/internal/images"
	"github.com/BlindspotSoftware/fpgactl/internal/logging"
	"github.com/BlindspotSoftware/fpgactl/internal/supervisor"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// controller is the part of the agent served over RPC.
type controller interface {
	Devices() []string
	State() agent.State
	Status() agent.Status
	Send(cmd string) error
	Press(action string) (agent.State, error)
	Program(selector string) <-chan agent.ProgramResult
}

// eventSource provides live views of the classified terminal output.
type eventSource interface {
	Subscribe() *logging.Subscription
}

// rpcService is the service implementation for the RPCs provided by fpgaagent.
type rpcService struct {
	ctl    controller
	events eventSource
}

var _ controlv1.ControlServiceHandler = &rpcService{}

// Devices is the handler for the Devices RPC.
func (s *rpcService) Devices(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	log.Debug().Msg("Server received Devices request")

	msg, err := controlv1.Encode(controlv1.DeviceList{
		Devices:  s.ctl.Devices(),
		Selected: s.ctl.State().Device,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(msg), nil
}

// Send is the handler for the Send RPC.
func (s *rpcService) Send(
	_ context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[emptypb.Empty], error) {
	cmd := req.Msg.GetValue()
	log.Info().Int("bytes", len(cmd)).Msg("Server received Send request")

	if err := s.ctl.Send(cmd); err != nil {
		return nil, connectError(err, nil)
	}

	return connect.NewResponse(&emptypb.Empty{}), nil
}

// Press is the handler for the Press RPC. If the action's command could not be
// sent, the error carries the new state as detail.
func (s *rpcService) Press(
	_ context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	action := req.Msg.GetValue()
	log.Info().Str("action", action).Msg("Server received Press request")

	state, err := s.ctl.Press(action)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownAction) {
			return nil, connectError(err, nil)
		}

		return nil, connectError(err, state)
	}

	msg, err := controlv1.Encode(state)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(msg), nil
}

// Program is the handler for the Program RPC. It blocks until the operation
// has finished. If the client goes away, the operation still completes and its
// outcome is kept in the agent's state.
func (s *rpcService) Program(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	selector := req.Msg.GetValue()
	log.Info().Str("bitstream", selector).Msg("Server received Program request")

	var res agent.ProgramResult

	select {
	case <-ctx.Done():
		log.Warn().Str("bitstream", selector).Msg("Program-RPC abandoned by client")

		return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
	case res = <-s.ctl.Program(selector):
	}

	if res.Err != nil {
		log.Print("Program-RPC finished with error: ", res.Err)

		if res.Report.ID == uuid.Nil {
			return nil, connectError(res.Err, nil)
		}

		return nil, connectError(res.Err, res.Report)
	}

	msg, err := controlv1.Encode(res.Report)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	log.Print("Program-RPC finished successfully")

	return connect.NewResponse(msg), nil
}

// Status is the handler for the Status RPC.
func (s *rpcService) Status(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	log.Debug().Msg("Server received Status request")

	msg, err := controlv1.Encode(s.ctl.Status())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(msg), nil
}

// Logs is the handler for the Logs RPC. It streams classified terminal lines
// until the client disconnects or the agent shuts down.
func (s *rpcService) Logs(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	log.Info().Msg("Server received Logs request")

	sub := s.events.Subscribe()
	defer sub.Close()

	defer func() {
		if n := sub.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("Logs-RPC subscriber missed events")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Logs-RPC finished, client gone")

			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				log.Info().Msg("Logs-RPC finished, agent shutting down")

				return nil
			}

			msg, err := controlv1.Encode(controlv1.EventFrom(ev))
			if err != nil {
				return connect.NewError(connect.CodeInternal, err)
			}

			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// connectError maps err to a connect error code. If detail is not nil, it is
// attached as a Struct error detail.
func connectError(err error, detail any) *connect.Error {
	var code connect.Code

	switch {
	case errors.Is(err, images.ErrUnknownImage), errors.Is(err, agent.ErrUnknownAction):
		code = connect.CodeInvalidArgument
	case errors.Is(err, agent.ErrBusy):
		code = connect.CodeResourceExhausted
	case errors.Is(err, supervisor.ErrWrite):
		code = connect.CodeUnavailable
	case errors.Is(err, programmer.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, programmer.ErrOperation):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	default:
		code = connect.CodeInternal
	}

	cerr := connect.NewError(code, err)

	if detail == nil {
		return cerr
	}

	msg, encErr := controlv1.Encode(detail)
	if encErr != nil {
		log.Error().Err(encErr).Msg("Encoding error detail")

		return cerr
	}

	d, detErr := connect.NewErrorDetail(msg)
	if detErr != nil {
		log.Error().Err(fmt.Errorf("error detail: %w", detErr)).Send()

		return cerr
	}

	cerr.AddDetail(d)

	return cerr
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package controlv1

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// echoService answers every unary call with the procedure it was reached by.
type echoService struct {
	mu   sync.Mutex
	sent []string
}

func (s *echoService) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sent
}

func (s *echoService) reply(procedure string) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(map[string]any{"procedure": procedure})
	if err != nil {
		return nil, err
	}

	return connect.NewResponse(msg), nil
}

func (s *echoService) Devices(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return s.reply(DevicesProcedure)
}

func (s *echoService) Send(_ context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
	s.mu.Lock()
	s.sent = append(s.sent, req.Msg.GetValue())
	s.mu.Unlock()

	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (s *echoService) Press(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return s.reply(PressProcedure)
}

func (s *echoService) Program(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("busy"))
}

func (s *echoService) Status(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return s.reply(StatusProcedure)
}

func (s *echoService) Logs(_ context.Context, _ *connect.Request[emptypb.Empty], stream *connect.ServerStream[structpb.Struct]) error {
	for _, text := range []string{"one", "two"} {
		msg, err := structpb.NewStruct(map[string]any{"text": text})
		if err != nil {
			return err
		}

		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	return nil
}

func newTestServer(t *testing.T, svc ControlServiceHandler) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle(NewControlServiceHandler(svc))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestClientServer(t *testing.T) {
	svc := &echoService{}
	srv := newTestServer(t, svc)
	client := NewControlServiceClient(srv.Client(), srv.URL+"/")
	ctx := context.Background()

	unary := []struct {
		procedure string
		call      func() (*connect.Response[structpb.Struct], error)
	}{
		{DevicesProcedure, func() (*connect.Response[structpb.Struct], error) {
			return client.Devices(ctx, connect.NewRequest(&emptypb.Empty{}))
		}},
		{PressProcedure, func() (*connect.Response[structpb.Struct], error) {
			return client.Press(ctx, connect.NewRequest(wrapperspb.String("original")))
		}},
		{StatusProcedure, func() (*connect.Response[structpb.Struct], error) {
			return client.Status(ctx, connect.NewRequest(&emptypb.Empty{}))
		}},
	}

	for _, tt := range unary {
		t.Run(tt.procedure, func(t *testing.T) {
			res, err := tt.call()
			if err != nil {
				t.Fatalf("call error = %v", err)
			}

			if got := res.Msg.GetFields()["procedure"].GetStringValue(); got != tt.procedure {
				t.Errorf("reached %q, want %q", got, tt.procedure)
			}
		})
	}

	t.Run(SendProcedure, func(t *testing.T) {
		if _, err := client.Send(ctx, connect.NewRequest(wrapperspb.String("4"))); err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		if sent := svc.Sent(); len(sent) != 1 || sent[0] != "4" {
			t.Errorf("sent = %q, want [4]", sent)
		}
	})

	t.Run(ProgramProcedure, func(t *testing.T) {
		_, err := client.Program(ctx, connect.NewRequest(wrapperspb.String("colour-bars")))
		if got := connect.CodeOf(err); got != connect.CodeResourceExhausted {
			t.Errorf("Program() code = %v, want %v", got, connect.CodeResourceExhausted)
		}
	})

	t.Run(LogsProcedure, func(t *testing.T) {
		stream, err := client.Logs(ctx, connect.NewRequest(&emptypb.Empty{}))
		if err != nil {
			t.Fatalf("Logs() error = %v", err)
		}
		defer stream.Close()

		var got []string
		for stream.Receive() {
			got = append(got, stream.Msg().GetFields()["text"].GetStringValue())
		}

		if err := stream.Err(); err != nil {
			t.Fatalf("stream error = %v", err)
		}

		if len(got) != 2 || got[0] != "one" || got[1] != "two" {
			t.Errorf("received %q, want [one two]", got)
		}
	})
}

func TestHandlerUnknownProcedure(t *testing.T) {
	srv := newTestServer(t, &echoService{})

	res, err := srv.Client().Post(srv.URL+"/"+ServiceName+"/Reboot", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

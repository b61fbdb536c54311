// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package controlv1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// DeviceList is the payload of the Devices procedure.
type DeviceList struct {
	Devices  []string `json:"devices"`
	Selected string   `json:"selected"`
}

// Event is the payload of a Logs message.
type Event struct {
	Time     time.Time `json:"time"`
	Severity string    `json:"severity"`
	Text     string    `json:"text"`
	Source   string    `json:"source,omitempty"`
}

// EventFrom converts a classified terminal line to its wire form.
func EventFrom(ev logline.Event) Event {
	return Event{
		Time:     ev.Time,
		Severity: ev.Severity.String(),
		Text:     ev.Text,
		Source:   ev.Source,
	}
}

// Encode converts v to a Struct via its JSON representation.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}

	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}

	return s, nil
}

// Decode is the inverse of Encode. v must be a pointer.
//
// Numbers in a Struct are doubles. They are re-encoded by encoding/json, which
// writes integral values without exponent, so they decode into integer fields.
func Decode(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}

	return nil
}

// DecodeErrorDetail decodes the first Struct detail of a connect error into v.
// It reports whether err carried such a detail.
func DecodeErrorDetail(err error, v any) bool {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return false
	}

	for _, detail := range cerr.Details() {
		msg, err := detail.Value()
		if err != nil {
			continue
		}

		if s, ok := msg.(*structpb.Struct); ok {
			return Decode(s, v) == nil
		}
	}

	return false
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/rs/zerolog"
)

// Adapter implements the diagnostics Logger interfaces of the core packages on
// top of a zerolog.Logger. Arguments are alternating keys and values.
type Adapter struct {
	log zerolog.Logger
}

// NewAdapter returns an Adapter tagging every message with component.
func NewAdapter(l zerolog.Logger, component string) Adapter {
	if component != "" {
		l = l.With().Str("component", component).Logger()
	}

	return Adapter{log: l}
}

func (a Adapter) Debug(msg string, args ...any) { a.log.Debug().Fields(args).Msg(msg) }
func (a Adapter) Info(msg string, args ...any)  { a.log.Info().Fields(args).Msg(msg) }
func (a Adapter) Warn(msg string, args ...any)  { a.log.Warn().Fields(args).Msg(msg) }
func (a Adapter) Error(msg string, args ...any) { a.log.Error().Fields(args).Msg(msg) }

// Destination writes classified terminal events to a zerolog.Logger. It is the
// logging destination of the drain loop.
type Destination struct {
	log zerolog.Logger
}

var _ logline.Sink = Destination{}

// NewDestination returns a Destination writing to l.
func NewDestination(l zerolog.Logger) Destination {
	return Destination{log: l}
}

func (d Destination) Emit(ev logline.Event) {
	var e *zerolog.Event

	switch ev.Severity {
	case logline.Debug:
		e = d.log.Debug()
	case logline.Error:
		e = d.log.Error()
	default:
		e = d.log.Info()
	}

	if ev.Source != "" {
		e = e.Str("source", ev.Source)
	}

	e.Msg(ev.Text)
}

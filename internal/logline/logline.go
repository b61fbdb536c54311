// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logline classifies lines emitted by the JTAG-UART terminal into
// severity-tagged events.
//
// The terminal prefixes each line with one of three fixed markers. Classification
// is a pure function over text: it never fails, lines without a known marker
// simply get the default severity.
package logline

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the level of a terminal log line.
type Severity int

const (
	Debug Severity = iota
	Info
	Error
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity is the inverse of [Severity.String]. It is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown severity %q", s)
	}
}

// Event is a single classified line.
type Event struct {
	Time     time.Time
	Severity Severity
	Text     string // Text is the line body with the severity marker removed.
	Source   string // Source names the stream the line was read from, e.g. "stdout".
}

// Sink receives classified events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Severity markers as written by the terminal. The separator is part of the marker.
const (
	DebugMarker = "[DEBUG]   - "
	InfoMarker  = "[INFO]    - "
	ErrorMarker = "[ERROR]   - "
)

// markers is checked in order, first match wins.
//
//nolint:gochecknoglobals
var markers = []struct {
	prefix   string
	severity Severity
}{
	{DebugMarker, Debug},
	{InfoMarker, Info},
	{ErrorMarker, Error},
}

// Classifier maps lines to events.
type Classifier struct {
	unmatched Severity // unmatched is the severity for lines that carry no known marker.
}

// NewClassifier returns a Classifier that assigns unmatched to lines without
// a known marker.
func NewClassifier(unmatched Severity) *Classifier {
	return &Classifier{unmatched: unmatched}
}

// DefaultUnmatched is the severity of lines without a marker unless configured otherwise.
const DefaultUnmatched = Info

//nolint:gochecknoglobals
var defaultClassifier = NewClassifier(DefaultUnmatched)

// Classify classifies line with the default classifier.
func Classify(line string) Event {
	return defaultClassifier.Classify(line)
}

// Classify returns the event for a single complete line. A trailing carriage
// return is dropped, markers are only recognized at the very start of the line.
func (c *Classifier) Classify(line string) Event {
	line = strings.TrimSuffix(line, "\r")

	for _, m := range markers {
		if text, ok := strings.CutPrefix(line, m.prefix); ok {
			return Event{Severity: m.severity, Text: text}
		}
	}

	return Event{Severity: c.unmatched, Text: line}
}

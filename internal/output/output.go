// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package output provides interfaces and implementations for different output formats.
package output

import (
	"io"
	"os"
	"slices"
)

// ContentType is an identifier for different kinds of formatted output.
type ContentType string

const (
	// TypeGeneral represents general text output.
	TypeGeneral ContentType = "general"

	// TypeDeviceList represents the enumerated programming cables, Data is a controlv1.DeviceList.
	TypeDeviceList ContentType = "device-list"

	// TypeState represents the agent's state, Data is an agent.State.
	TypeState ContentType = "state"

	// TypeReport represents a finished programming operation, Data is a programmer.Report.
	TypeReport ContentType = "program-report"

	// TypeStatus represents the agent's status, Data is an agent.Status.
	TypeStatus ContentType = "status"

	// TypeEvent represents a classified terminal line, Data is a controlv1.Event.
	TypeEvent ContentType = "event"

	// TypeVersion represents version information, Data is a buildinfo.Info or a string.
	TypeVersion ContentType = "version"
)

// Content is a structured data unit to be formatted and displayed.
type Content struct {
	// Type identifies the category of this content.
	Type ContentType

	// Data holds the actual content, see the ContentType constants.
	Data any

	// IsError indicates whether this content represents an error.
	IsError bool

	// Metadata contains additional contextual information about the content.
	// Common keys include:
	// - "server": Address of the fpgaagent
	// - "msg": message or description of remote procedure call
	// - "bitstream": Bitstream being programmed
	// - "action": Action being pressed
	Metadata map[string]string
}

// Formatter provides methods to format and output content in different styles.
// Formatters are not safe for concurrent use.
type Formatter interface {
	// WriteContent formats and outputs a structured content object.
	WriteContent(content Content)

	// Write sends plain text to standard output as a convenience method.
	Write(text string)

	// WriteErr sends plain text to standard error as a convenience method.
	WriteErr(text string)

	// Buffer enables output buffering mode, accumulating content instead of immediate output.
	Buffer()

	// IsBuffering returns whether the formatter is currently in buffering mode.
	IsBuffering() bool

	// Flush writes all buffered content and returns to immediate mode.
	Flush() error
}

// Config contains the configuration options for output formatters.
type Config struct {
	// Stdout is the writer for standard output.
	Stdout io.Writer

	// Stderr is the writer for standard error.
	Stderr io.Writer

	// NoColor disables colored output when set to true.
	NoColor bool

	// Format specifies the output format (text, json, yaml, oneline).
	Format string

	// Verbose enables additional details in the output.
	Verbose bool
}

// Formats lists the accepted values of Config.Format. The empty format is text.
var Formats = []string{"text", "json", "yaml", "oneline", "csv"}

// ValidFormat reports whether format selects a formatter.
func ValidFormat(format string) bool {
	return format == "" || slices.Contains(Formats, format)
}

// New creates an appropriate output formatter based on the provided configuration.
//
//nolint:ireturn
func New(config Config) Formatter {
	switch config.Format {
	case "json":
		return newJSONFormatter(config)
	case "yaml":
		return newYAMLFormatter(config)
	case "csv", "oneline":
		return newOneLineFormatter(config)
	default:
		return newTextFormatter(config)
	}
}

// writers returns the configured writers, defaulting to os.Stdout and os.Stderr.
func writers(config Config) (io.Writer, io.Writer) {
	stdout, stderr := config.Stdout, config.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	return stdout, stderr
}

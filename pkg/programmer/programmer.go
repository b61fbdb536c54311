// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package programmer drives the external FPGA programming tool. It discovers the
// programming cables the tool can see and writes bitstreams to a device through
// one of them.
//
// The tool is invoked once per operation through an [Executor], either on the
// local host or on a remote lab host over SSH.
package programmer

import (
	"errors"
	"fmt"
)

var (
	// ErrToolInvocation means the tool could not be launched at all.
	ErrToolInvocation = errors.New("programming tool invocation failed")
	// ErrOperation means the tool ran but the programming operation did not succeed.
	ErrOperation = errors.New("programming operation failed")
	// ErrTimeout means the tool did not finish within the configured bound.
	ErrTimeout = errors.New("programming operation timed out")
	// ErrNoDevices is returned by Select for an empty device list.
	ErrNoDevices = errors.New("no programming devices found")
	// ErrDeviceIndex is returned by Select for an index out of range.
	ErrDeviceIndex = errors.New("invalid device index")
)

// Kind tells why a programming operation failed.
type Kind string

const (
	KindExitStatus      Kind = "exit-status"
	KindNoSuccessMarker Kind = "no-success-marker"
	KindErrorMarker     Kind = "error-marker"
	KindTimeout         Kind = "timeout"
)

// OperationError carries the captured output of a failed programming operation.
// It wraps ErrOperation, and ErrTimeout for KindTimeout.
type OperationError struct {
	Kind     Kind
	Device   string
	Image    string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("programming %s via %q failed: %s (exit code %d)", e.Image, e.Device, e.Kind, e.ExitCode)
}

func (e *OperationError) Unwrap() []error {
	if e.Kind == KindTimeout {
		return []error{ErrOperation, ErrTimeout}
	}

	return []error{ErrOperation}
}

// Logger receives diagnostics of the programmer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

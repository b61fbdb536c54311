// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package programmer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultTool is the programming tool looked up in PATH.
	DefaultTool = "quartus_pgm"
	// DefaultMode is the programming mode passed to the tool.
	DefaultMode = "JTAG"
)

var (
	// DefaultSuccessMarker must match the tool's stdout for an operation to succeed.
	DefaultSuccessMarker = regexp.MustCompile(`(?i)programmer was successful`)
	// DefaultErrorMarker must match neither stdout nor stderr for an operation to succeed.
	// It matches the word error and non-zero error counts, the tool reports
	// "0 errors" on success.
	DefaultErrorMarker = regexp.MustCompile(`(?i)\berror\b|\b[1-9][0-9]*\s+errors\b`)
)

// Outcome of a successful operation as recorded in a Report.
const OutcomeSuccess = "success"

// Runner writes bitstreams to a device with the programming tool.
// The zero value is usable and runs DefaultTool on the local host.
type Runner struct {
	Tool          string         // Tool is the programming tool. Default is DefaultTool.
	Mode          string         // Mode is the programming mode. Default is DefaultMode.
	Exec          Executor       // Exec runs the tool. Default is LocalExecutor.
	Timeout       time.Duration  // Timeout bounds a single operation. Zero means no bound.
	SuccessMarker *regexp.Regexp // SuccessMarker defaults to DefaultSuccessMarker.
	ErrorMarker   *regexp.Regexp // ErrorMarker defaults to DefaultErrorMarker.
	Verbose       bool           // Verbose logs the complete tool output.
	Logger        Logger
}

// Report describes a finished programming operation.
type Report struct {
	ID       uuid.UUID     `json:"id"`
	Device   string        `json:"device"`
	Image    string        `json:"image"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	ExitCode int           `json:"exit_code"`
	Outcome  string        `json:"outcome"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
}

// Args returns the tool arguments to program imagePath via device.
func (r *Runner) Args(device, imagePath string) []string {
	return []string{
		"--cable=" + device,
		"--mode=" + r.mode(),
		"-o",
		"p;" + imagePath,
	}
}

// Program writes the bitstream at imagePath to the FPGA behind device and blocks
// until the tool has finished.
//
// The operation succeeds only if the tool exits with code 0, its stdout matches
// the success marker and neither stdout nor stderr matches the error marker.
// Otherwise the returned error is an *OperationError. If the tool cannot be
// launched, the error wraps ErrToolInvocation. The Report is filled in either way.
func (r *Runner) Program(ctx context.Context, device, imagePath string) (Report, error) {
	log := r.logger()

	if r.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	report := Report{
		ID:      uuid.New(),
		Device:  device,
		Image:   imagePath,
		Started: time.Now(),
	}

	args := r.Args(device, imagePath)
	log.Info("programmer: running tool", "id", report.ID, "tool", r.tool(), "args", strings.Join(args, " "))

	out, err := r.executor().Run(ctx, r.tool(), args...)

	report.Duration = time.Since(report.Started)
	report.ExitCode = out.ExitCode
	report.Stdout = decode(out.Stdout)
	report.Stderr = decode(out.Stderr)

	if r.Verbose {
		log.Info("programmer: tool stdout", "id", report.ID, "stdout", report.Stdout)
		log.Info("programmer: tool stderr", "id", report.ID, "stderr", report.Stderr)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			report.Outcome = string(KindTimeout)
			opErr := r.operationError(KindTimeout, report)
			log.Error("programmer: operation timed out", "id", report.ID, "timeout", r.Timeout)

			return report, opErr
		}

		report.Outcome = "invocation"
		log.Error("programmer: tool invocation failed", "id", report.ID, "error", err)

		return report, fmt.Errorf("%w: %s: %w", ErrToolInvocation, r.tool(), err)
	}

	if kind, ok := r.evaluate(out.ExitCode, report.Stdout, report.Stderr); !ok {
		report.Outcome = string(kind)
		opErr := r.operationError(kind, report)
		log.Error("programmer: operation failed", "id", report.ID, "reason", kind, "code", out.ExitCode)

		return report, opErr
	}

	report.Outcome = OutcomeSuccess
	log.Info("programmer: operation succeeded", "id", report.ID, "device", device, "image", imagePath,
		"duration", report.Duration)

	return report, nil
}

// evaluate applies the success conditions. All three must hold.
func (r *Runner) evaluate(exitCode int, stdout, stderr string) (Kind, bool) {
	errMarker := r.ErrorMarker
	if errMarker == nil {
		errMarker = DefaultErrorMarker
	}

	okMarker := r.SuccessMarker
	if okMarker == nil {
		okMarker = DefaultSuccessMarker
	}

	switch {
	case exitCode != 0:
		return KindExitStatus, false
	case errMarker.MatchString(stdout) || errMarker.MatchString(stderr):
		return KindErrorMarker, false
	case !okMarker.MatchString(stdout):
		return KindNoSuccessMarker, false
	default:
		return "", true
	}
}

func (r *Runner) operationError(kind Kind, report Report) *OperationError {
	return &OperationError{
		Kind:     kind,
		Device:   report.Device,
		Image:    report.Image,
		ExitCode: report.ExitCode,
		Stdout:   report.Stdout,
		Stderr:   report.Stderr,
	}
}

func (r *Runner) tool() string {
	if r.Tool == "" {
		return DefaultTool
	}

	return r.Tool
}

func (r *Runner) mode() string {
	if r.Mode == "" {
		return DefaultMode
	}

	return r.Mode
}

func (r *Runner) executor() Executor {
	if r.Exec == nil {
		return LocalExecutor{}
	}

	return r.Exec
}

func (r *Runner) logger() Logger {
	if r.Logger == nil {
		return noopLogger{}
	}

	return r.Logger
}

// decode converts tool output to text, replacing invalid UTF-8.
func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

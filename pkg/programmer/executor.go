// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package programmer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Output is the captured result of a finished tool invocation.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Executor runs a tool to completion and captures its output.
//
// A non-zero exit code is not an error, it is reported in Output.ExitCode.
// Run returns an error only if the tool could not be run, or ctx ended first.
// In the latter case the error wraps ctx.Err().
type Executor interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// waitDelay bounds how long Run waits for the output pipes after the tool was killed.
const waitDelay = 2 * time.Second

// LocalExecutor runs tools on the local host.
type LocalExecutor struct {
	// Dir is the working directory of the tool. Empty means the current directory.
	Dir string
}

// Ensure implementing the Executor interface.
var _ Executor = LocalExecutor{}

func (e LocalExecutor) Run(ctx context.Context, name string, args ...string) (Output, error) {
	var stdout, stderr bytes.Buffer

	//nolint:gosec // G204: tool and arguments come from the agent configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	out := Output{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()

		return out, fmt.Errorf("%s: %w", name, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()

			return out, nil
		}

		return out, err
	}

	return out, nil
}

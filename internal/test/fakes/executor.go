// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakes

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
)

// FakeExecutor is an in-memory implementation of programmer.Executor.
//
// Behavior:
//   - Run() returns Outputs[key] where key is the command line joined by spaces.
//     If no entry exists, Default is returned.
//   - Errors can be injected via Err to simulate a tool that cannot be launched.
//   - If Block is non-nil, Run waits for it to be closed or for ctx to end.
//     Started receives one value per blocked call, if non-nil.
//   - Every invocation is recorded in Calls.
//
// Methods are safe for concurrent use.
type FakeExecutor struct {
	mu      sync.Mutex
	Outputs map[string]programmer.Output
	Default programmer.Output
	Err     error

	Block   chan struct{}
	Started chan struct{}

	Calls [][]string
}

var _ programmer.Executor = &FakeExecutor{}

func (f *FakeExecutor) Run(ctx context.Context, name string, args ...string) (programmer.Output, error) {
	call := append([]string{name}, args...)

	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	out, ok := f.Outputs[strings.Join(call, " ")]

	if !ok {
		out = f.Default
	}

	err := f.Err
	block, started := f.Block, f.Started
	f.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- struct{}{}
		}

		select {
		case <-block:
		case <-ctx.Done():
			return programmer.Output{ExitCode: -1}, ctx.Err()
		}
	}

	if err != nil {
		return programmer.Output{}, err
	}

	return out, nil
}

// Invocations returns a copy of all recorded calls.
func (f *FakeExecutor) Invocations() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.Calls)
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The mock package provides stand-ins for the external terminal that can be used
// for unit-testing its consumers.
package mock

import (
	"io"
	"strings"
	"sync"
)

// Console is an in-memory terminal stream. It can be attached to a supervisor
// in place of a spawned process.
//
// Output written with Print is what the terminal emits. Everything the
// supervisor sends is recorded and available via Received.
type Console struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	received strings.Builder
	closed   bool
	WriteErr error
}

// NewConsole returns an open console.
func NewConsole() *Console {
	pr, pw := io.Pipe()

	return &Console{pr: pr, pw: pw}
}

// Print makes the terminal emit text. It blocks until the text was read.
func (c *Console) Print(text string) error {
	_, err := io.WriteString(c.pw, text)

	return err
}

// Hangup closes the terminal's output, as if the process exited.
func (c *Console) Hangup() {
	c.pw.Close()
}

// Fail makes the next read of the terminal's output fail with err.
func (c *Console) Fail(err error) {
	c.pw.CloseWithError(err)
}

// Received returns everything written to the console so far.
func (c *Console) Received() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.received.String()
}

func (c *Console) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, io.ErrClosedPipe
	}

	if c.WriteErr != nil {
		return 0, c.WriteErr
	}

	return c.received.Write(p)
}

func (c *Console) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return c.pw.Close()
}

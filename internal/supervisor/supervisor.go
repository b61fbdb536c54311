// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package supervisor owns a long-running terminal process (or an already open
// console stream) and its standard streams.
//
// A Supervisor exposes two operations to its callers: Send, which writes a command
// to the terminal's input under exclusive access, and the drain loop, which is
// started automatically and turns the terminal's output into classified
// [logline.Event] values for a [logline.Sink].
//
// Lifecycle: unstarted -> running -> stopped. A stopped Supervisor never runs
// again, callers create a new one to reconnect.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/linebuf"
	"github.com/BlindspotSoftware/fpgactl/internal/logline"
)

var (
	// ErrSpawn is returned by Start if the terminal executable cannot be launched.
	ErrSpawn = errors.New("spawn terminal")
	// ErrWrite is returned by Send if the input stream is closed or the terminal is gone.
	ErrWrite = errors.New("write to terminal")
	// ErrRead is reported by Err if the drain loop stopped on a stream fault.
	ErrRead = errors.New("read from terminal")
)

// readBufferSize is the size of a single read from the terminal's output.
const readBufferSize = 4096

// DefaultGracefulTimeout is how long Stop waits after SIGTERM before it kills the process.
const DefaultGracefulTimeout = 5 * time.Second

// Status is the lifecycle state of a Supervisor.
type Status int

const (
	StatusUnstarted Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusUnstarted:
		return "unstarted"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Config describes the terminal process to spawn.
type Config struct {
	// Name is a human-readable identifier used in logs.
	Name string
	// Binary is the executable, looked up in PATH if it contains no separator.
	Binary string
	// Args are passed to Binary as is.
	Args []string
	// Env holds additional KEY=value pairs. If nil, the environment is inherited.
	Env []string
	// WorkDir is the working directory of the process. Empty means the current directory.
	WorkDir string
	// GracefulTimeout bounds the wait after SIGTERM in Stop. Zero means DefaultGracefulTimeout.
	GracefulTimeout time.Duration
}

// Logger receives diagnostics of the supervisor itself.
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

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the diagnostics logger. By default diagnostics are discarded.
func WithLogger(l Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClassifier replaces the default line classifier.
func WithClassifier(c *logline.Classifier) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithMaxLine bounds the length of a single reassembled line, see [linebuf.Reassembler].
func WithMaxLine(n int) Option {
	return func(s *Supervisor) {
		s.maxLine = n
	}
}

// Supervisor owns a terminal and its streams. All methods are safe for concurrent use.
type Supervisor struct {
	name       string
	sink       logline.Sink
	logger     Logger
	classifier *logline.Classifier
	maxLine    int
	graceful   time.Duration

	// writeMu serializes writers of stdin, one command at a time.
	writeMu sync.Mutex
	stdin   io.WriteCloser

	cmd    *exec.Cmd // nil for attached streams
	stderr *lineWriter

	mu       sync.RWMutex
	status   Status
	started  time.Time
	stopping bool
	err      error

	sent  atomic.Uint64
	lines atomic.Uint64

	done chan struct{}
}

func newSupervisor(name string, sink logline.Sink, opts []Option) *Supervisor {
	s := &Supervisor{
		name:       name,
		sink:       sink,
		logger:     noopLogger{},
		classifier: logline.NewClassifier(logline.DefaultUnmatched),
		graceful:   DefaultGracefulTimeout,
		status:     StatusUnstarted,
		done:       make(chan struct{}),
	}

	if s.sink == nil {
		s.sink = logline.SinkFunc(func(logline.Event) {})
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start spawns the process described by cfg with piped standard streams and
// launches the drain loop. The process leads a new process group. Cancelling
// ctx kills the group.
//
// If the executable cannot be launched, the returned error wraps ErrSpawn.
func Start(ctx context.Context, cfg Config, sink logline.Sink, opts ...Option) (*Supervisor, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Binary
	}

	s := newSupervisor(name, sink, opts)
	if cfg.GracefulTimeout > 0 {
		s.graceful = cfg.GracefulTimeout
	}

	s.logger.Info("supervisor: starting terminal", "name", s.name, "binary", cfg.Binary, "args", cfg.Args)

	//nolint:gosec // G204: binary and args come from the agent configuration
	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	setProcessGroup(cmd)

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	s.stderr = &lineWriter{
		lb:   linebuf.Reassembler{MaxLine: s.maxLine},
		emit: func(line string) { s.emit("stderr", line) },
	}
	cmd.Stderr = s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: stdin pipe: %w", ErrSpawn, s.name, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: stdout pipe: %w", ErrSpawn, s.name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, s.name, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.run(stdout)

	s.logger.Info("supervisor: terminal started", "name", s.name, "pid", cmd.Process.Pid)

	return s, nil
}

// Attach supervises an already open console stream, e.g. a serial port. Writes
// by Send go to rwc, the drain loop reads from it. Stop closes rwc.
func Attach(name string, rwc io.ReadWriteCloser, sink logline.Sink, opts ...Option) *Supervisor {
	s := newSupervisor(name, sink, opts)
	s.stdin = rwc
	s.run(rwc)

	s.logger.Info("supervisor: console attached", "name", s.name)

	return s
}

func (s *Supervisor) run(r io.Reader) {
	s.mu.Lock()
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	go s.drain(r)
}

// drain is the only reader of the terminal's output. It runs until the stream
// reports EOF or fails.
func (s *Supervisor) drain(r io.Reader) {
	buf := make([]byte, readBufferSize)
	lb := linebuf.Reassembler{MaxLine: s.maxLine}

	var readErr error

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lb.Feed(buf[:n]) {
				s.emit("stdout", line)
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isStopping() {
				readErr = fmt.Errorf("%w: %s: %w", ErrRead, s.name, err)
			}

			break
		}
	}

	if line, ok := lb.Flush(); ok {
		s.emit("stdout", line)
	}

	s.reap()

	s.mu.Lock()
	s.status = StatusStopped
	s.err = readErr
	s.mu.Unlock()

	if readErr != nil {
		s.logger.Error("supervisor: drain stopped", "name", s.name, "error", readErr)
		s.sink.Emit(logline.Event{
			Time:     time.Now(),
			Severity: logline.Error,
			Text:     readErr.Error(),
			Source:   "supervisor",
		})
	} else {
		s.logger.Info("supervisor: terminal output closed", "name", s.name, "lines", s.lines.Load())
	}

	close(s.done)
}

// reap waits for a spawned process once its output is exhausted.
func (s *Supervisor) reap() {
	if s.cmd == nil {
		return
	}

	err := s.cmd.Wait()

	if s.stderr != nil {
		s.stderr.flush()
	}

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		s.logger.Info("supervisor: terminal exited", "name", s.name, "code", 0)
	case errors.As(err, &exitErr):
		s.logger.Warn("supervisor: terminal exited", "name", s.name, "code", exitErr.ExitCode())
	default:
		s.logger.Warn("supervisor: waiting for terminal", "name", s.name, "error", err)
	}
}

func (s *Supervisor) emit(source, line string) {
	ev := s.classifier.Classify(line)
	ev.Time = time.Now()
	ev.Source = source

	s.lines.Add(1)
	s.sink.Emit(ev)
}

// Send writes text to the terminal's input as is; no newline is appended.
// Concurrent calls are serialized, so the bytes of one command are never
// interleaved with another.
//
// If the terminal is not running or the write fails, the error wraps ErrWrite.
// The failure is logged as well, it never affects the Supervisor's state.
func (s *Supervisor) Send(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if st := s.Status(); st != StatusRunning || s.isStopping() {
		if st == StatusRunning {
			st = StatusStopped
		}

		err := fmt.Errorf("%w: %s is %s", ErrWrite, s.name, st)
		s.logger.Error("supervisor: send failed", "name", s.name, "error", err)

		return err
	}

	if _, err := io.WriteString(s.stdin, text); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrWrite, s.name, err)
		s.logger.Error("supervisor: send failed", "name", s.name, "error", err)

		return err
	}

	s.sent.Add(1)
	s.logger.Debug("supervisor: command sent", "name", s.name, "bytes", len(text))

	return nil
}

// Stop closes the terminal's input and terminates it. A spawned process gets
// SIGTERM first and is killed if it does not exit within the graceful timeout.
// Both signals go to the process group, so helpers started by the terminal
// are stopped with it. A Send blocked on the input fails with ErrWrite.
// Stop blocks until the drain loop has exited. Calling Stop on a stopped
// Supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()

		return nil
	}

	s.stopping = true
	s.mu.Unlock()

	// Not under writeMu: closing the input unblocks a Send stuck on a full pipe.
	if closeErr := s.stdin.Close(); closeErr != nil {
		s.logger.Debug("supervisor: closing input", "name", s.name, "error", closeErr)
	}

	if s.cmd == nil {
		<-s.done

		return nil
	}

	proc := s.cmd.Process
	s.logger.Info("supervisor: stopping terminal", "name", s.name, "pid", proc.Pid)

	if err := signalGroup(proc, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("supervisor: SIGTERM failed", "name", s.name, "error", err)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(s.graceful):
		s.logger.Warn("supervisor: graceful stop timed out, killing", "name", s.name, "timeout", s.graceful)
	}

	if err := signalGroup(proc, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill terminal %s: %w", s.name, err)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(s.graceful):
		return fmt.Errorf("terminal %s: output still open after kill", s.name)
	}
}

func (s *Supervisor) isStopping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stopping
}

// Name returns the name used in logs.
func (s *Supervisor) Name() string {
	return s.name
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// Done is closed once the drain loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the drain loop. It is nil while running
// and after a clean end of stream.
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}

// Stats is a snapshot of a Supervisor.
type Stats struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Sent      uint64        `json:"sent"`
	Lines     uint64        `json:"lines"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:   s.name,
		Status: s.status.String(),
		Sent:   s.sent.Load(),
		Lines:  s.lines.Load(),
	}

	if s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}

	if s.status == StatusRunning {
		stats.Uptime = time.Since(s.started)
	}

	if s.err != nil {
		stats.LastError = s.err.Error()
	}

	return stats
}

// lineWriter classifies everything written to it line by line. It backs the
// stderr of a spawned terminal.
type lineWriter struct {
	mu   sync.Mutex
	lb   linebuf.Reassembler
	emit func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, line := range w.lb.Feed(p) {
		w.emit(line)
	}

	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if line, ok := w.lb.Flush(); ok {
		w.emit(line)
	}
}

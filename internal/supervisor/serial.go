// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/tarm/serial"
)

// DefaultBaudRate is used if SerialConfig.Baud is unset.
const DefaultBaudRate = 115200

// serialReadTimeout keeps reads short so a closed port is noticed promptly.
const serialReadTimeout = 100 * time.Millisecond

// SerialConfig describes a UART the terminal is reachable on directly.
type SerialConfig struct {
	Port string // Port is the path to the serial device, e.g. /dev/ttyUSB0.
	Baud int    // Baud is the baud rate. If unset, DefaultBaudRate is used.
}

// OpenSerial opens the serial port described by cfg and attaches a Supervisor to it.
// If the port cannot be opened, the returned error wraps ErrSpawn.
func OpenSerial(cfg SerialConfig, sink logline.Sink, opts ...Option) (*Supervisor, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: serial port is not set", ErrSpawn)
	}

	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaudRate
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open serial port %s: %w", ErrSpawn, cfg.Port, err)
	}

	return Attach(fmt.Sprintf("%s@%d", cfg.Port, cfg.Baud), newSerialStream(port), sink, opts...), nil
}

// serialStream hides the read timeouts of a port opened with a ReadTimeout: an
// idle port reports no data instead of end of stream until it is closed.
type serialStream struct {
	port   io.ReadWriteCloser
	closed atomic.Bool
}

func newSerialStream(port io.ReadWriteCloser) *serialStream {
	return &serialStream{port: port}
}

func (s *serialStream) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if s.closed.Load() {
		return n, io.EOF
	}

	if err != nil && n == 0 && isReadTimeout(err) {
		return 0, nil
	}

	return n, err
}

func (s *serialStream) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialStream) Close() error {
	s.closed.Store(true)

	return s.port.Close()
}

// isReadTimeout reports whether err is how the serial driver signals an idle read.
func isReadTimeout(err error) bool {
	return errors.Is(err, io.EOF) || strings.Contains(err.Error(), "timeout")
}

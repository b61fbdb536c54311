// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging configures the process-wide zerolog logger and connects it to
// the narrow logging interfaces of the core packages.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables overriding the configuration.
const (
	EnvLogLevel   = "FPGACTL_LOG_LEVEL"
	EnvLogNoColor = "FPGACTL_LOG_NOCOLOR"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config describes the logger.
type Config struct {
	App    string    // App is added to every message as field "app".
	Level  string    // Level is the minimum level, e.g. "debug". Default is "info".
	Format string    // Format is FormatConsole or FormatJSON. Default is FormatConsole.
	Color  string    // Color is one of the color modes. Default is ColorAuto.
	Out    io.Writer // Out is the destination. Default is os.Stdout.
}

var (
	setupOnce sync.Once
	root      zerolog.Logger
)

// Setup configures the process-wide logger from cfg and the environment. Only the
// first call has an effect, later calls return the logger set up first.
func Setup(cfg Config) zerolog.Logger {
	setupOnce.Do(func() {
		applyEnvOverrides(&cfg)
		root = New(cfg)
		log.Logger = root
		zerolog.DefaultContextLogger = &root
	})

	return root
}

// New returns a logger for cfg without touching global state.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    !useColor(cfg.Color, out),
		}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}

	return ctx.Logger()
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		if _, ok := ParseLevel(raw); ok {
			cfg.Level = raw
		}
	}

	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		if v {
			cfg.Color = ColorNever
		} else {
			cfg.Color = ColorAlways
		}
	}
}

// ParseLevel maps a level name to a zerolog level. Empty and unknown names
// report false.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}

	return v, true
}

// useColor resolves the color mode. Auto enables color only for terminals and
// honors NO_COLOR.
func useColor(mode string, out io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}

	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

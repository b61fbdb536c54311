// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads and validates the agent configuration. The format is
// YAML or TOML, selected by file extension.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/images"
	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/BlindspotSoftware/fpgactl/internal/template"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the address the agent serves on if none is configured.
const DefaultListen = "localhost:1024"

var (
	// ErrValidation is returned if the configuration violates a constraint.
	ErrValidation = errors.New("validation error")
	// ErrFormat is returned for configuration files of unknown format.
	ErrFormat = errors.New("unsupported config format")
)

// Config is the agent configuration.
type Config struct {
	Listen  string `yaml:"listen" toml:"listen" validate:"required,hostname_port"`
	TLS     TLS    `yaml:"tls" toml:"tls"`
	Metrics bool   `yaml:"metrics" toml:"metrics"`
	// Root is the directory holding the bitstream and picture directories.
	Root string `yaml:"root" toml:"root" validate:"required"`
	// Device is the index of the programming cable to use.
	Device       int    `yaml:"device" toml:"device" validate:"gte=0"`
	InitialImage string `yaml:"initial_image" toml:"initial_image"`

	Log        Log        `yaml:"log" toml:"log"`
	Programmer Programmer `yaml:"programmer" toml:"programmer"`
	Terminal   Terminal   `yaml:"terminal" toml:"terminal"`

	// Bitstreams maps selectors to bitstream file names. If empty, the built-in
	// catalog is used.
	Bitstreams map[string]string `yaml:"bitstreams" toml:"bitstreams" validate:"dive,keys,required,endkeys,required"`
	// Actions maps action names to a terminal command and a status picture. If
	// empty, DefaultActions is used.
	Actions map[string]Action `yaml:"actions" toml:"actions" validate:"dive,keys,required,endkeys"`
}

// TLS enables TLS on the agent's listener.
type TLS struct {
	Cert string `yaml:"cert" toml:"cert" validate:"required_with=Key"`
	Key  string `yaml:"key" toml:"key" validate:"required_with=Cert"`
}

// Enabled reports whether a certificate is configured.
func (t TLS) Enabled() bool {
	return t.Cert != "" && t.Key != ""
}

// Log configures the agent's logger.
type Log struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off none"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=console json"`
	Color  string `yaml:"color" toml:"color" validate:"omitempty,oneof=auto always never"`
}

// Programmer configures the programming tool.
type Programmer struct {
	Tool    string        `yaml:"tool" toml:"tool" validate:"required"`
	Mode    string        `yaml:"mode" toml:"mode" validate:"required"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout" validate:"gte=0"`
	// Success and Error override the output markers. They are regular
	// expressions and always match case-insensitively.
	Success string  `yaml:"success" toml:"success" validate:"omitempty,regexp"`
	Error   string  `yaml:"error" toml:"error" validate:"omitempty,regexp"`
	Verbose bool    `yaml:"verbose" toml:"verbose"`
	Remote  *Remote `yaml:"remote" toml:"remote"`
}

// SuccessMarker compiles the configured success marker. It returns nil if
// none is configured.
func (p Programmer) SuccessMarker() (*regexp.Regexp, error) {
	return compileMarker(p.Success)
}

// ErrorMarker compiles the configured error marker. It returns nil if none is
// configured.
func (p Programmer) ErrorMarker() (*regexp.Regexp, error) {
	return compileMarker(p.Error)
}

func compileMarker(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil //nolint:nilnil
	}

	return regexp.Compile("(?i)" + expr)
}

// Remote runs the programming tool on another host over SSH.
type Remote struct {
	Host       string        `yaml:"host" toml:"host" validate:"required"`
	Port       int           `yaml:"port" toml:"port" validate:"omitempty,min=1,max=65535"`
	User       string        `yaml:"user" toml:"user" validate:"required"`
	Key        string        `yaml:"key" toml:"key" validate:"required"`
	KnownHosts string        `yaml:"known_hosts" toml:"known_hosts"`
	Insecure   bool          `yaml:"insecure" toml:"insecure"`
	Timeout    time.Duration `yaml:"timeout" toml:"timeout" validate:"gte=0"`
}

// Terminal configures the JTAG-UART terminal. Either a process is spawned, or
// a serial port is opened if Serial is set. Binary, Args and WorkDir may
// reference the placeholders ${device} and ${root}. MaxLine bounds a single
// terminal line in bytes, zero selects the default.
type Terminal struct {
	Binary          string        `yaml:"binary" toml:"binary" validate:"required_without=Serial"`
	Args            []string      `yaml:"args" toml:"args"`
	WorkDir         string        `yaml:"workdir" toml:"workdir"`
	Unmatched       string        `yaml:"unmatched" toml:"unmatched" validate:"omitempty,oneof=debug info error"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout" toml:"graceful_timeout" validate:"gte=0"`
	MaxLine         int           `yaml:"max_line" toml:"max_line" validate:"omitempty,min=4"`
	Serial          *Serial       `yaml:"serial" toml:"serial"`
}

// UnmatchedSeverity returns the severity of lines without a marker.
func (t Terminal) UnmatchedSeverity() logline.Severity {
	sev, err := logline.ParseSeverity(t.Unmatched)
	if err != nil {
		return logline.DefaultUnmatched
	}

	return sev
}

// Serial is a terminal reachable on a UART.
type Serial struct {
	Port string `yaml:"port" toml:"port" validate:"required"`
	Baud int    `yaml:"baud" toml:"baud" validate:"omitempty,min=1"`
}

// Action is a named terminal command with the status picture it switches to.
type Action struct {
	Command string `yaml:"command" toml:"command" validate:"required"`
	Image   string `yaml:"image" toml:"image"`
}

// DefaultActions returns the built-in actions.
func DefaultActions() map[string]Action {
	return map[string]Action{
		"original":  {Command: "4", Image: "trusted.png"},
		"malicious": {Command: "3", Image: "malware.png"},
	}
}

// Default returns the configuration used for keys not set in a file.
func Default() Config {
	return Config{
		Listen:       DefaultListen,
		Root:         ".",
		InitialImage: "trusted.png",
		Log: Log{
			Level:  "info",
			Format: "console",
			Color:  "auto",
		},
		Programmer: Programmer{
			Tool: "quartus_pgm",
			Mode: "JTAG",
		},
		Terminal: Terminal{
			Binary:          "juart-terminal.exe",
			Args:            []string{"--instance", "0", "-d", "1"},
			Unmatched:       "info",
			GracefulTimeout: 5 * time.Second,
		},
	}
}

// Load reads the file at path on top of Default and validates the result.
// Files ending in .toml are parsed as TOML, .yaml and .yml as YAML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrFormat, ext)
	}

	cfg.fill()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDefault returns the validated built-in configuration, used if no file
// is given.
func LoadDefault() (Config, error) {
	cfg := Default()
	cfg.fill()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// fill sets defaults that cannot be merged by the decoders.
func (c *Config) fill() {
	if len(c.Bitstreams) == 0 {
		c.Bitstreams = images.DefaultBitstreams()
	}

	if len(c.Actions) == 0 {
		c.Actions = DefaultActions()
	}
}

// Validate checks all constraints of c.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.RegisterValidation("regexp", isRegexp); err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		return wrapValidatorErrors(err)
	}

	cmdline := append([]string{c.Terminal.Binary, c.Terminal.WorkDir}, c.Terminal.Args...)
	if err := template.Validate(cmdline, template.VarDevice, template.VarRoot); err != nil {
		return fmt.Errorf("%w: terminal: %w", ErrValidation, err)
	}

	return nil
}

func isRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())

	return err == nil
}

func wrapValidatorErrors(err error) error {
	var valErrors validator.ValidationErrors
	if !errors.As(err, &valErrors) {
		// not of type ValidationErrors
		return err
	}

	errMsg := make([]string, 0, len(valErrors))
	for _, valErr := range valErrors {
		errMsg = append(errMsg,
			fmt.Sprintf("field validation for '%s' failed on the '%s' tag", valErr.Namespace(), valErr.Tag()))
	}

	return fmt.Errorf("%w:\n%s", ErrValidation, strings.Join(errMsg, "\n"))
}

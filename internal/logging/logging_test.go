// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// records decodes JSON log output, one object per line.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}

		out = append(out, m)
	}

	return out
}

func jsonLogger(buf *bytes.Buffer, level string) zerolog.Logger {
	return New(Config{App: "fpgaagent", Level: level, Format: FormatJSON, Out: buf})
}

func TestDestination(t *testing.T) {
	var buf bytes.Buffer

	d := NewDestination(jsonLogger(&buf, "debug"))

	d.Emit(logline.Event{Severity: logline.Debug, Text: "temp 42", Source: "stdout"})
	d.Emit(logline.Event{Severity: logline.Info, Text: "ready", Source: "stdout"})
	d.Emit(logline.Event{Severity: logline.Error, Text: "disk full", Source: "stderr"})

	got := records(t, &buf)

	var summary [][3]string
	for _, r := range got {
		summary = append(summary, [3]string{r["level"].(string), r["message"].(string), r["source"].(string)})
	}

	want := [][3]string{
		{"debug", "temp 42", "stdout"},
		{"info", "ready", "stdout"},
		{"error", "disk full", "stderr"},
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	if got[0]["app"] != "fpgaagent" {
		t.Errorf("app field = %v, want fpgaagent", got[0]["app"])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer

	d := NewDestination(jsonLogger(&buf, "info"))
	d.Emit(logline.Event{Severity: logline.Debug, Text: "hidden"})
	d.Emit(logline.Event{Severity: logline.Info, Text: "shown"})

	got := records(t, &buf)
	if len(got) != 1 || got[0]["message"] != "shown" {
		t.Errorf("records = %v, want only the info message", got)
	}
}

func TestAdapter(t *testing.T) {
	var buf bytes.Buffer

	a := NewAdapter(jsonLogger(&buf, "debug"), "supervisor")
	a.Warn("supervisor: terminal exited", "name", "juart", "code", 3)
	a.Error("supervisor: send failed", "error", errors.New("broken pipe"))

	got := records(t, &buf)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}

	first := got[0]
	if first["level"] != "warn" || first["component"] != "supervisor" || first["name"] != "juart" || first["code"] != 3.0 {
		t.Errorf("first record = %v", first)
	}

	if got[1]["error"] != "broken pipe" {
		t.Errorf("error field = %v, want broken pipe", got[1]["error"])
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer

	l := New(Config{Level: "info", Color: ColorNever, Out: &buf})
	l.Error().Msg("programming failed")

	out := buf.String()
	if !strings.Contains(out, "ERR") || !strings.Contains(out, "programming failed") {
		t.Errorf("console output = %q", out)
	}

	if strings.Contains(out, "\x1b[") {
		t.Errorf("console output %q contains color codes", out)
	}
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer

	tests := []struct {
		mode string
		want bool
	}{
		{mode: ColorAlways, want: true},
		{mode: ColorNever, want: false},
		{mode: ColorAuto, want: false}, // a buffer is not a terminal
		{mode: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			if got := useColor(tt.mode, &buf); got != tt.want {
				t.Errorf("useColor(%q) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{raw: "debug", want: zerolog.DebugLevel, wantOK: true},
		{raw: " INFO ", want: zerolog.InfoLevel, wantOK: true},
		{raw: "warning", want: zerolog.WarnLevel, wantOK: true},
		{raw: "error", want: zerolog.ErrorLevel, wantOK: true},
		{raw: "off", want: zerolog.Disabled, wantOK: true},
		{raw: "", want: zerolog.InfoLevel},
		{raw: "loud", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseLevel(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v, want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogNoColor, "true")

	cfg := Config{Level: "info", Color: ColorAlways}
	applyEnvOverrides(&cfg)

	if cfg.Level != "debug" || cfg.Color != ColorNever {
		t.Errorf("cfg = %+v, want level debug and no color", cfg)
	}

	t.Setenv(EnvLogLevel, "bogus")

	cfg = Config{Level: "warn"}
	applyEnvOverrides(&cfg)

	if cfg.Level != "warn" {
		t.Errorf("invalid override replaced level: %q", cfg.Level)
	}
}

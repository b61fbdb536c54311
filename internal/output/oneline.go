// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
)

// OneLineFormatter formats output as single lines in a CSV-like format.
// It's designed for dense, machine-readable output such as grep-able log streams.
type OneLineFormatter struct {
	stdout    io.Writer
	stderr    io.Writer
	verbose   bool
	buffering bool
	stdBuffer strings.Builder
	errBuffer strings.Builder
	separator string
	now       func() time.Time
}

func newOneLineFormatter(config Config) *OneLineFormatter {
	stdout, stderr := writers(config)

	return &OneLineFormatter{
		stdout:    stdout,
		stderr:    stderr,
		verbose:   config.Verbose,
		separator: ",",
		now:       time.Now,
	}
}

// WriteContent formats and outputs structured content as a single line:
// timestamp, content type, level, optional metadata and the data fields.
func (f *OneLineFormatter) WriteContent(content Content) {
	fields := []string{f.now().Format(time.RFC3339), string(content.Type), "INFO"}

	if content.IsError {
		fields[2] = "ERROR"
	}

	if f.verbose {
		for _, key := range slices.Sorted(maps.Keys(content.Metadata)) {
			fields = append(fields, key+"="+content.Metadata[key])
		}
	}

	fields = append(fields, dataFields(content.Data)...)

	quoted := make([]string, len(fields))
	for i, field := range fields {
		quoted[i] = f.quote(field)
	}

	f.output(strings.Join(quoted, f.separator)+"\n", content.IsError)
}

// dataFields splits data into the trailing fields of a line.
func dataFields(data any) []string {
	switch d := data.(type) {
	case string:
		return []string{strings.TrimRight(d, "\n")}
	case []string:
		return []string{strings.Join(d, "|")}
	case controlv1.DeviceList:
		return []string{strings.Join(d.Devices, "|"), d.Selected}
	case controlv1.Event:
		return []string{d.Time.Format(time.RFC3339Nano), d.Severity, d.Source, d.Text}
	case fmt.Stringer:
		return []string{strings.TrimRight(d.String(), "\n")}
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return []string{fmt.Sprintf("%v", d)}
		}

		return []string{string(raw)}
	}
}

// quote wraps value in double quotes if it contains the separator, a space or a quote.
func (f *OneLineFormatter) quote(value string) string {
	if strings.ContainsAny(value, f.separator+" \"\n") {
		return "\"" + strings.ReplaceAll(value, "\"", "\"\"") + "\""
	}

	return value
}

// Write sends text to standard output.
func (f *OneLineFormatter) Write(text string) {
	f.WriteContent(Content{Type: TypeGeneral, Data: text})
}

// WriteErr sends text to standard error.
func (f *OneLineFormatter) WriteErr(text string) {
	f.WriteContent(Content{Type: TypeGeneral, Data: text, IsError: true})
}

// Buffer starts accumulating content instead of immediate output.
func (f *OneLineFormatter) Buffer() {
	f.buffering = true
}

// IsBuffering returns whether the formatter is currently buffering output.
func (f *OneLineFormatter) IsBuffering() bool {
	return f.buffering
}

func (f *OneLineFormatter) output(line string, isError bool) {
	switch {
	case f.buffering && isError:
		f.errBuffer.WriteString(line)
	case f.buffering:
		f.stdBuffer.WriteString(line)
	case isError:
		fmt.Fprint(f.stderr, line)
	default:
		fmt.Fprint(f.stdout, line)
	}
}

// Flush ensures all buffered output is written.
func (f *OneLineFormatter) Flush() error {
	if !f.buffering {
		return nil
	}

	f.buffering = false

	if f.stdBuffer.Len() > 0 {
		if _, err := io.WriteString(f.stdout, f.stdBuffer.String()); err != nil {
			return fmt.Errorf("error writing stdout buffer: %w", err)
		}

		f.stdBuffer.Reset()
	}

	if f.errBuffer.Len() > 0 {
		if _, err := io.WriteString(f.stderr, f.errBuffer.String()); err != nil {
			return fmt.Errorf("error writing stderr buffer: %w", err)
		}

		f.errBuffer.Reset()
	}

	return nil
}

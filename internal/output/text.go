// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"github.com/BlindspotSoftware/fpgactl/pkg/programmer"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
)

// ANSI escape codes, only used if color is enabled.
const (
	invertCode = "\033[7m"
	dimCode    = "\033[2m"
	redCode    = "\033[31m"
	resetCode  = "\033[0m"
)

// TextFormatter implements Formatter for humans. It supports:
// - Separate stdout and stderr streams.
// - Buffering mode for deferred output.
// - Metadata headers in verbose mode, printed only when the metadata changes.
// - Colored event severities unless disabled.
type TextFormatter struct {
	stdout          io.Writer
	stderr          io.Writer
	verbose         bool
	color           bool
	buffering       bool
	stdBuffer       bytes.Buffer
	errBuffer       bytes.Buffer
	metadataCache   map[string]string // Last printed metadata.
	lastWriteStderr bool              // Whether the last metadata went to stderr.
}

func newTextFormatter(config Config) *TextFormatter {
	stdout, stderr := writers(config)

	return &TextFormatter{
		stdout:        stdout,
		stderr:        stderr,
		verbose:       config.Verbose,
		color:         !config.NoColor,
		metadataCache: make(map[string]string),
	}
}

// WriteContent formats and outputs structured content.
func (f *TextFormatter) WriteContent(content Content) {
	writer := f.writer(content.IsError)

	f.writeMetadata(content, writer)

	switch data := content.Data.(type) {
	case controlv1.DeviceList:
		f.writeDeviceList(data, writer)
	case agent.State:
		f.writeFields(writer, f.stateFields(data))
	case agent.Status:
		f.writeStatus(data, writer)
	case programmer.Report:
		f.writeReport(data, writer)
	case controlv1.Event:
		f.writeEvent(data, writer)
	case fmt.Stringer:
		fmt.Fprint(writer, terminated(data.String()))
	case string:
		if content.Type == TypeGeneral {
			fmt.Fprint(writer, data)
		} else {
			fmt.Fprint(writer, terminated(data))
		}
	case []string:
		for _, line := range data {
			fmt.Fprintln(writer, line)
		}
	default:
		fmt.Fprintf(writer, "%v\n", data)
	}
}

func (f *TextFormatter) writer(isError bool) io.Writer {
	switch {
	case f.buffering && isError:
		return &f.errBuffer
	case f.buffering:
		return &f.stdBuffer
	case isError:
		return f.stderr
	default:
		return f.stdout
	}
}

// writeDeviceList numbers the cables the way the programming tool does and
// marks the selected one.
func (f *TextFormatter) writeDeviceList(list controlv1.DeviceList, writer io.Writer) {
	for i, device := range list.Devices {
		if device == list.Selected {
			fmt.Fprintf(writer, "%d) %s (selected)\n", i+1, device)
		} else {
			fmt.Fprintf(writer, "%d) %s\n", i+1, device)
		}
	}
}

type field struct {
	key, value string
}

func (f *TextFormatter) writeFields(writer io.Writer, fields []field) {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	for _, fl := range fields {
		fmt.Fprintf(tw, "%s:\t%s\n", fl.key, fl.value)
	}

	tw.Flush()
}

func (f *TextFormatter) stateFields(s agent.State) []field {
	image := s.Image
	if image == "" {
		image = "(placeholder)"
	}

	fields := []field{
		{"device", s.Device},
		{"image", image},
	}

	if s.LastAction != "" {
		fields = append(fields, field{"last action", s.LastAction})
	}

	fields = append(fields, field{"programming", yesNo(s.Programming)})

	if s.LastProgram != nil {
		fields = append(fields, field{"last program", reportSummary(*s.LastProgram)})
	}

	if s.ProgramError != "" {
		fields = append(fields, field{"program error", s.ProgramError})
	}

	return fields
}

func (f *TextFormatter) writeStatus(s agent.Status, writer io.Writer) {
	fields := f.stateFields(s.State)

	term := s.Terminal
	fields = append(fields,
		field{"terminal", fmt.Sprintf("%s (%s)", term.Name, term.Status)},
		field{"commands sent", fmt.Sprint(term.Sent)},
		field{"lines read", fmt.Sprint(term.Lines)},
	)

	if term.PID != 0 {
		fields = append(fields, field{"terminal pid", fmt.Sprint(term.PID)})
	}

	if term.Uptime > 0 {
		fields = append(fields, field{"terminal uptime", term.Uptime.Round(time.Second).String()})
	}

	if term.LastError != "" {
		fields = append(fields, field{"terminal error", term.LastError})
	}

	fields = append(fields,
		field{"devices", strings.Join(s.Devices, ", ")},
		field{"bitstreams", strings.Join(s.Bitstreams, ", ")},
		field{"actions", strings.Join(s.Actions, ", ")},
	)

	f.writeFields(writer, fields)
}

func (f *TextFormatter) writeReport(r programmer.Report, writer io.Writer) {
	fmt.Fprintln(writer, reportSummary(r))

	if !f.verbose {
		return
	}

	fmt.Fprintf(writer, "id: %s\n", r.ID)

	if r.Stdout != "" {
		fmt.Fprint(writer, "--- stdout\n", terminated(r.Stdout))
	}

	if r.Stderr != "" {
		fmt.Fprint(writer, "--- stderr\n", terminated(r.Stderr))
	}
}

func reportSummary(r programmer.Report) string {
	return fmt.Sprintf("%s: %s via %s in %s (exit code %d)",
		r.Outcome, r.Image, r.Device, r.Duration.Round(time.Millisecond), r.ExitCode)
}

// writeEvent prints a terminal line with its time and severity. Errors are
// red and debug lines dimmed if color is enabled.
func (f *TextFormatter) writeEvent(ev controlv1.Event, writer io.Writer) {
	line := fmt.Sprintf("%s %-5s %s", ev.Time.Local().Format("15:04:05.000"), strings.ToUpper(ev.Severity), ev.Text)
	if f.verbose && ev.Source != "" {
		line += " [" + ev.Source + "]"
	}

	if f.color {
		switch ev.Severity {
		case "error":
			line = redCode + line + resetCode
		case "debug":
			line = dimCode + line + resetCode
		}
	}

	fmt.Fprintln(writer, line)
}

// Write sends text to standard output.
func (f *TextFormatter) Write(text string) {
	fmt.Fprint(f.writer(false), text)
}

// WriteErr sends text to standard error.
func (f *TextFormatter) WriteErr(text string) {
	fmt.Fprint(f.writer(true), text)
}

// Buffer starts accumulating content instead of immediate output.
func (f *TextFormatter) Buffer() {
	f.buffering = true
}

// IsBuffering returns true if the formatter is in buffered mode.
func (f *TextFormatter) IsBuffering() bool {
	return f.buffering
}

// Flush ensures all buffered output is written.
func (f *TextFormatter) Flush() error {
	if !f.buffering {
		return nil
	}

	if _, err := f.stdBuffer.WriteTo(f.stdout); err != nil {
		return fmt.Errorf("error writing stdout buffer: %w", err)
	}

	if _, err := f.errBuffer.WriteTo(f.stderr); err != nil {
		return fmt.Errorf("error writing stderr buffer: %w", err)
	}

	f.buffering = false
	clear(f.metadataCache)

	return nil
}

// writeMetadata prints metadata if verbose mode is enabled and it has changed
// since the last time, or the stream changed.
func (f *TextFormatter) writeMetadata(content Content, writer io.Writer) {
	if !f.verbose || len(content.Metadata) == 0 {
		return
	}

	toStderr := writer == f.stderr || writer == &f.errBuffer
	if maps.Equal(content.Metadata, f.metadataCache) && toStderr == f.lastWriteStderr {
		return
	}

	f.lastWriteStderr = toStderr

	known, other := splitMetadata(content.Metadata)

	if sentence := metadataText(known); sentence != "" {
		f.writeHeader(writer, sentence)
	}

	for _, key := range slices.Sorted(maps.Keys(other)) {
		f.writeHeader(writer, key+": "+other[key])
	}

	clear(f.metadataCache)
	maps.Copy(f.metadataCache, content.Metadata)
}

func (f *TextFormatter) writeHeader(writer io.Writer, text string) {
	if f.color {
		fmt.Fprintf(writer, "%s# %s%s\n", invertCode, text, resetCode)
	} else {
		fmt.Fprintf(writer, "# %s\n", text)
	}
}

var knownMetadata = []string{"server", "msg", "bitstream", "action"}

// splitMetadata separates known metadata keys from the rest.
func splitMetadata(metadata map[string]string) (map[string]string, map[string]string) {
	known := make(map[string]string)
	other := make(map[string]string)

	for key, value := range metadata {
		if slices.Contains(knownMetadata, key) {
			known[key] = value
		} else {
			other[key] = value
		}
	}

	return known, other
}

// metadataText creates a descriptive sentence from any combination of known metadata keys.
func metadataText(known map[string]string) string {
	var parts []string

	if server, ok := known["server"]; ok {
		parts = append(parts, "connected to "+server)
	}

	if msg, ok := known["msg"]; ok {
		parts = append(parts, "("+msg+")")
	}

	if bitstream, ok := known["bitstream"]; ok {
		parts = append(parts, fmt.Sprintf("programming %q", bitstream))
	}

	if action, ok := known["action"]; ok {
		parts = append(parts, fmt.Sprintf("pressing %q", action))
	}

	return strings.Join(parts, " ")
}

func terminated(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}

	return s + "\n"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

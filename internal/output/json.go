// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is the envelope written by the structured formatters.
type Record struct {
	ContentType string            `json:"contentType" yaml:"contentType"`
	Data        any               `json:"data" yaml:"data"`
	Error       bool              `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Timestamp   string            `json:"timestamp" yaml:"timestamp"`
}

func newRecord(content Content, verbose bool, now time.Time) Record {
	rec := Record{
		ContentType: string(content.Type),
		Data:        content.Data,
		Error:       content.IsError,
		Timestamp:   now.Format(time.RFC3339),
	}

	// Metadata is part of the output in verbose mode only.
	if verbose && len(content.Metadata) > 0 {
		rec.Metadata = content.Metadata
	}

	return rec
}

// JSONFormatter formats output as JSON objects.
type JSONFormatter struct {
	stdout     io.Writer
	stderr     io.Writer
	verbose    bool
	buffering  bool
	bufferList []Record
	now        func() time.Time
}

func newJSONFormatter(config Config) *JSONFormatter {
	stdout, stderr := writers(config)

	return &JSONFormatter{
		stdout:  stdout,
		stderr:  stderr,
		verbose: config.Verbose,
		now:     time.Now,
	}
}

// WriteContent formats and outputs structured content.
func (f *JSONFormatter) WriteContent(content Content) {
	rec := newRecord(content, f.verbose, f.now())

	if f.buffering {
		f.bufferList = append(f.bufferList, rec)

		return
	}

	writer := f.stdout
	if content.IsError {
		writer = f.stderr
	}

	var (
		bytes []byte
		err   error
	)

	// Event streams are consumed line by line.
	if content.Type == TypeEvent {
		bytes, err = json.Marshal(rec)
	} else {
		bytes, err = json.MarshalIndent(rec, "", "  ")
	}

	if err != nil {
		log.Error().Err(err).Str("type", string(content.Type)).Msg("Marshaling JSON output")

		return
	}

	fmt.Fprintln(writer, string(bytes))
}

// Write sends text to standard output.
func (f *JSONFormatter) Write(text string) {
	f.WriteContent(Content{Type: TypeGeneral, Data: text})
}

// WriteErr sends text to standard error.
func (f *JSONFormatter) WriteErr(text string) {
	f.WriteContent(Content{Type: TypeGeneral, Data: text, IsError: true})
}

// Buffer starts accumulating content instead of immediate output.
func (f *JSONFormatter) Buffer() {
	f.buffering = true
}

// IsBuffering returns true if the formatter is in buffered mode.
func (f *JSONFormatter) IsBuffering() bool {
	return f.buffering
}

// Flush writes all buffered records as one batch object and returns to
// immediate mode.
func (f *JSONFormatter) Flush() error {
	if !f.buffering {
		return nil
	}

	f.buffering = false

	if len(f.bufferList) == 0 {
		return nil
	}

	batch := struct {
		BatchOutput []Record `json:"batchOutput"`
		Timestamp   string   `json:"timestamp"`
	}{
		BatchOutput: f.bufferList,
		Timestamp:   f.now().Format(time.RFC3339),
	}

	f.bufferList = nil

	bytes, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON batch: %w", err)
	}

	_, err = fmt.Fprintln(f.stdout, string(bytes))

	return err
}

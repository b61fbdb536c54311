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
	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as a stream of YAML documents.
type YAMLFormatter struct {
	stdout     io.Writer
	stderr     io.Writer
	verbose    bool
	buffering  bool
	bufferList []Record
	now        func() time.Time
}

func newYAMLFormatter(config Config) *YAMLFormatter {
	stdout, stderr := writers(config)

	return &YAMLFormatter{
		stdout:  stdout,
		stderr:  stderr,
		verbose: config.Verbose,
		now:     time.Now,
	}
}

// WriteContent formats and outputs structured content.
func (f *YAMLFormatter) WriteContent(content Content) {
	rec := newRecord(content, f.verbose, f.now())

	if f.buffering {
		f.bufferList = append(f.bufferList, rec)

		return
	}

	writer := f.stdout
	if content.IsError {
		writer = f.stderr
	}

	if err := writeDocument(writer, rec); err != nil {
		log.Error().Err(err).Str("type", string(content.Type)).Msg("Marshaling YAML output")
	}
}

// writeDocument writes rec as a YAML document. The data is passed through its
// JSON form first, so keys are the same as in JSON output.
func writeDocument(writer io.Writer, rec Record) error {
	data, err := normalize(rec.Data)
	if err != nil {
		return err
	}

	rec.Data = data

	bytes, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(writer, "---\n%s", bytes)

	return err
}

func normalize(data any) (any, error) {
	switch data.(type) {
	case nil, string, []string:
		return data, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return generic, nil
}

// Write sends text to standard output.
func (f *YAMLFormatter) Write(text string) {
	f.WriteContent(Content{Type: TypeGeneral, Data: text})
}

// WriteErr sends text to standard error.
func (f *YAMLFormatter) WriteErr(text string) {
	f.WriteContent(Content{Type: TypeGeneral, Data: text, IsError: true})
}

// Buffer starts accumulating content instead of immediate output.
func (f *YAMLFormatter) Buffer() {
	f.buffering = true
}

// IsBuffering returns whether the formatter is currently buffering output.
func (f *YAMLFormatter) IsBuffering() bool {
	return f.buffering
}

// Flush writes the buffered documents, errors to standard error and the rest
// to standard output, and returns to immediate mode.
func (f *YAMLFormatter) Flush() error {
	if !f.buffering {
		return nil
	}

	records := f.bufferList
	f.bufferList = nil
	f.buffering = false

	for _, rec := range records {
		writer := f.stdout
		if rec.Error {
			writer = f.stderr
		}

		if err := writeDocument(writer, rec); err != nil {
			return fmt.Errorf("flush YAML output: %w", err)
		}
	}

	return nil
}

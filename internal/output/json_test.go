// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"github.com/BlindspotSoftware/fpgactl/pkg/rpc/controlv1"
	"github.com/google/go-cmp/cmp"
)

var fixedNow = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }

func TestJSONFormatter(t *testing.T) {
	var stdout, stderr bytes.Buffer

	f := newJSONFormatter(Config{Stdout: &stdout, Stderr: &stderr, Verbose: true})
	f.now = fixedNow

	f.WriteContent(Content{
		Type:     TypeState,
		Data:     agent.State{Device: "USB-Blaster [1-1]", Image: "trusted.png"},
		Metadata: map[string]string{"server": "localhost:1024"},
	})
	f.WriteErr("connection refused")

	var got struct {
		ContentType string            `json:"contentType"`
		Data        agent.State       `json:"data"`
		Metadata    map[string]string `json:"metadata"`
		Timestamp   string            `json:"timestamp"`
	}

	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not a JSON document: %v\n%s", err, stdout.String())
	}

	if got.ContentType != "state" || got.Data.Device != "USB-Blaster [1-1]" || got.Timestamp != "2025-01-01T12:00:00Z" {
		t.Errorf("record = %+v", got)
	}

	if diff := cmp.Diff(map[string]string{"server": "localhost:1024"}, got.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	var errRec Record
	if err := json.Unmarshal(stderr.Bytes(), &errRec); err != nil {
		t.Fatalf("stderr is not a JSON document: %v", err)
	}

	if !errRec.Error || errRec.Data != "connection refused" {
		t.Errorf("error record = %+v", errRec)
	}
}

func TestJSONEventsAreOneLineEach(t *testing.T) {
	var stdout bytes.Buffer

	f := newJSONFormatter(Config{Stdout: &stdout})

	for _, text := range []string{"Booting", "Tamper detected"} {
		f.WriteContent(Content{Type: TypeEvent, Data: controlv1.Event{Severity: "info", Text: text}})
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), stdout.String())
	}

	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line %q is not valid JSON", line)
		}
	}
}

func TestJSONMetadataOnlyWhenVerbose(t *testing.T) {
	var stdout bytes.Buffer

	f := newJSONFormatter(Config{Stdout: &stdout})
	f.WriteContent(Content{Type: TypeGeneral, Data: "x", Metadata: map[string]string{"server": "a"}})

	if strings.Contains(stdout.String(), "metadata") {
		t.Errorf("metadata in non-verbose output: %s", stdout.String())
	}
}

func TestJSONBuffering(t *testing.T) {
	var stdout bytes.Buffer

	f := newJSONFormatter(Config{Stdout: &stdout})
	f.Buffer()
	f.Write("one")
	f.Write("two")

	if stdout.Len() != 0 {
		t.Fatal("output written while buffering")
	}

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var batch struct {
		BatchOutput []Record `json:"batchOutput"`
	}

	if err := json.Unmarshal(stdout.Bytes(), &batch); err != nil {
		t.Fatalf("batch is not valid JSON: %v", err)
	}

	if len(batch.BatchOutput) != 2 || batch.BatchOutput[1].Data != "two" {
		t.Errorf("batch = %+v", batch)
	}

	if f.IsBuffering() {
		t.Error("IsBuffering() = true after Flush()")
	}
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/BlindspotSoftware/fpgactl/internal/agent"
	"gopkg.in/yaml.v3"
)

func TestYAMLFormatter(t *testing.T) {
	var stdout, stderr bytes.Buffer

	f := newYAMLFormatter(Config{Stdout: &stdout, Stderr: &stderr})
	f.now = fixedNow

	f.WriteContent(Content{
		Type: TypeState,
		Data: agent.State{Device: "USB-Blaster [1-1]", LastAction: "original"},
	})
	f.WriteErr("boom")

	if !strings.HasPrefix(stdout.String(), "---\n") {
		t.Errorf("stdout %q does not start a YAML document", stdout.String())
	}

	var got struct {
		ContentType string         `yaml:"contentType"`
		Data        map[string]any `yaml:"data"`
	}

	if err := yaml.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not YAML: %v", err)
	}

	// Keys follow the JSON names.
	if got.Data["last_action"] != "original" || got.Data["device"] != "USB-Blaster [1-1]" {
		t.Errorf("data = %v", got.Data)
	}

	if !strings.Contains(stderr.String(), "error: true") {
		t.Errorf("stderr = %q, want an error document", stderr.String())
	}
}

func TestYAMLBuffering(t *testing.T) {
	var stdout, stderr bytes.Buffer

	f := newYAMLFormatter(Config{Stdout: &stdout, Stderr: &stderr})
	f.Buffer()
	f.Write("one")
	f.WriteErr("two")
	f.Write("three")

	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Fatal("output written while buffering")
	}

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if n := strings.Count(stdout.String(), "---\n"); n != 2 {
		t.Errorf("stdout has %d documents, want 2", n)
	}

	if n := strings.Count(stderr.String(), "---\n"); n != 1 {
		t.Errorf("stderr has %d documents, want 1", n)
	}
}

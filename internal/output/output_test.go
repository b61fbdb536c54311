// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"", "*output.TextFormatter"},
		{"text", "*output.TextFormatter"},
		{"json", "*output.JSONFormatter"},
		{"yaml", "*output.YAMLFormatter"},
		{"oneline", "*output.OneLineFormatter"},
		{"csv", "*output.OneLineFormatter"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if !ValidFormat(tt.format) {
				t.Errorf("ValidFormat(%q) = false", tt.format)
			}

			if got := fmt.Sprintf("%T", New(Config{Format: tt.format})); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}

	if ValidFormat("xml") {
		t.Error(`ValidFormat("xml") = true`)
	}
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package programmer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// deviceLine matches an enumerated cable, e.g. "1) USB-Blaster [1-1.2]".
var deviceLine = regexp.MustCompile(`^\d+\)\s*(.+)`)

// ParseDevices extracts the cable names from the output of an auto-detect run,
// in the order listed. Lines not describing a cable are skipped.
func ParseDevices(stdout string) []string {
	var devices []string

	for line := range strings.Lines(stdout) {
		line = strings.TrimRight(line, "\r\n")

		if m := deviceLine.FindStringSubmatch(line); m != nil {
			devices = append(devices, m[1])
		}
	}

	return devices
}

// Enumerate runs the tool's auto-detect mode and returns the cables it reports.
// An empty result is valid and means no cable was found. If the tool cannot be
// launched, the returned error wraps ErrToolInvocation.
func Enumerate(ctx context.Context, exec Executor, tool string) ([]string, error) {
	out, err := exec.Run(ctx, tool, "--auto")
	if err != nil {
		return nil, fmt.Errorf("%w: %s --auto: %w", ErrToolInvocation, tool, err)
	}

	return ParseDevices(decode(out.Stdout)), nil
}

// Select returns the device at index. It fails with ErrNoDevices if devices is
// empty, and with ErrDeviceIndex if index is out of range.
func Select(devices []string, index int) (string, error) {
	if len(devices) == 0 {
		return "", ErrNoDevices
	}

	if index < 0 || index >= len(devices) {
		return "", fmt.Errorf("%w: %d, available devices: %d", ErrDeviceIndex, index, len(devices))
	}

	return devices[index], nil
}

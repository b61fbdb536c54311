// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buildinfo reads the version information embedded in the binary by
// the Go toolchain.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const (
	unknown       = "unknown"
	shortHashSize = 7
)

// Info describes a build.
type Info struct {
	Version  string    `json:"version"`            // Version is the module version.
	Revision string    `json:"revision"`           // Revision is the short VCS revision.
	Modified bool      `json:"modified,omitempty"` // Modified reports uncommitted changes at build time.
	Time     time.Time `json:"time,omitzero"`      // Time is the VCS commit time.
	Compiler string    `json:"compiler"`           // Compiler is the Go version used.
}

// String formats i for humans.
func (i Info) String() string {
	when := "------"
	if !i.Time.IsZero() {
		when = i.Time.Format(time.UnixDate)
	}

	revision := i.Revision
	if i.Modified {
		revision += "-dirty"
	}

	return fmt.Sprintf("Version: %s\nCode Revision %s from %s built with %s\n",
		i.Version, revision, when, i.Compiler)
}

var read = sync.OnceValue(func() Info {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{Version: unknown, Revision: unknown, Compiler: unknown}
	}

	return fromBuildInfo(bi)
})

// Read returns the build information of the running binary.
func Read() Info {
	return read()
}

// VersionString returns the formatted build information of the running binary.
func VersionString() string {
	return Read().String()
}

func fromBuildInfo(bi *debug.BuildInfo) Info {
	return Info{
		Version:  bi.Main.Version,
		Revision: shortHash(setting("vcs.revision", bi.Settings)),
		Modified: setting("vcs.modified", bi.Settings) == "true",
		Time:     parseTime(setting("vcs.time", bi.Settings)),
		Compiler: bi.GoVersion,
	}
}

func setting(key string, settings []debug.BuildSetting) string {
	for _, s := range settings {
		if s.Key == key {
			return s.Value
		}
	}

	return ""
}

func shortHash(revision string) string {
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return "unset"
	}

	if len(revision) > shortHashSize {
		revision = revision[:shortHashSize]
	}

	return revision
}

// parseTime parses the RFC 3339 commit time, see [debug.BuildSetting].
func parseTime(rfc3339 string) time.Time {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return time.Time{}
	}

	return t
}

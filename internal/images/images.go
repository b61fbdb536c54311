// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package images resolves bitstream selectors and status pictures to files
// below the agent's root directory.
package images

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// BitstreamDir holds the bitstream files, relative to the root.
	BitstreamDir = "sofs"
	// PictureDir holds the status pictures, relative to the root.
	PictureDir = "images"
)

// Placeholder is reported instead of a status picture that does not exist.
const Placeholder = ""

var (
	// ErrUnknownImage is returned for a selector not present in the catalog.
	ErrUnknownImage = errors.New("unknown bitstream")
	// ErrInvalidPath is returned for file names escaping their base directory.
	ErrInvalidPath = errors.New("invalid file name")
)

// DefaultBitstreams maps the built-in selectors to their bitstream files.
func DefaultBitstreams() map[string]string {
	return map[string]string{
		"colour-bars":    "tpg_colour_bars.sof",
		"grayscale-bars": "tpg_grayscale_bars.sof",
	}
}

// Logger receives warnings about missing files.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Catalog maps bitstream selectors to files. It is immutable after creation and
// safe for concurrent use.
type Catalog struct {
	root       string
	bitstreams map[string]string
	log        Logger
}

// NewCatalog returns a catalog rooted at root. If bitstreams is empty,
// DefaultBitstreams is used. File names must be relative and stay inside
// BitstreamDir.
func NewCatalog(root string, bitstreams map[string]string, log Logger) (*Catalog, error) {
	if len(bitstreams) == 0 {
		bitstreams = DefaultBitstreams()
	}

	if log == nil {
		log = noopLogger{}
	}

	c := &Catalog{
		root:       root,
		bitstreams: make(map[string]string, len(bitstreams)),
		log:        log,
	}

	for selector, file := range bitstreams {
		clean, err := sanitize(file)
		if err != nil {
			return nil, fmt.Errorf("bitstream %q: %w", selector, err)
		}

		c.bitstreams[selector] = clean
	}

	return c, nil
}

// Root returns the directory the catalog resolves against.
func (c *Catalog) Root() string {
	return c.root
}

// Selectors returns the known selectors in sorted order.
func (c *Catalog) Selectors() []string {
	return slices.Sorted(maps.Keys(c.bitstreams))
}

// Resolve returns the path of the bitstream for selector.
func (c *Catalog) Resolve(selector string) (string, error) {
	file, ok := c.bitstreams[selector]
	if !ok {
		return "", fmt.Errorf("%w: %q, known: %s", ErrUnknownImage, selector, strings.Join(c.Selectors(), ", "))
	}

	return filepath.Join(c.root, BitstreamDir, file), nil
}

// Missing returns the selectors whose bitstream file does not exist.
func (c *Catalog) Missing() []string {
	var missing []string

	for _, selector := range c.Selectors() {
		path := filepath.Join(c.root, BitstreamDir, c.bitstreams[selector])
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, selector)
		}
	}

	return missing
}

// StatusImage returns the path of the status picture file. A missing or invalid
// picture degrades to Placeholder and is logged as a warning.
func (c *Catalog) StatusImage(file string) string {
	clean, err := sanitize(file)
	if err != nil {
		c.log.Warn("images: using placeholder", "picture", file, "error", err)

		return Placeholder
	}

	path := filepath.Join(c.root, PictureDir, clean)

	info, err := os.Stat(path)
	if err != nil {
		c.log.Warn("images: using placeholder", "picture", path, "error", err)

		return Placeholder
	}

	if info.IsDir() {
		c.log.Warn("images: using placeholder", "picture", path, "error", "is a directory")

		return Placeholder
	}

	return path
}

// sanitize rejects empty, absolute and parent-relative file names.
func sanitize(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	cleaned := filepath.Clean(file)

	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: absolute paths are not allowed: %q", ErrInvalidPath, file)
	}

	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: paths with leading '..' are not allowed: %q", ErrInvalidPath, file)
	}

	return cleaned, nil
}

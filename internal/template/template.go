// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package template expands ${name} placeholders in configured command lines,
// e.g. the terminal arguments "--cable=${device}".
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Placeholders available in terminal command lines.
const (
	VarDevice = "device" // VarDevice is the selected programming cable.
	VarRoot   = "root"   // VarRoot is the directory holding bitstreams and pictures.
)

// ErrUnknownPlaceholder is returned for a placeholder without a value.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

// placeholderRegex matches ${name} placeholders.
var placeholderRegex = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

// Template is a string with named placeholders.
type Template struct {
	raw          string
	placeholders []string
}

// Parse extracts the placeholders of s. An opening "${" without a valid name
// and closing brace is an error.
func Parse(s string) (*Template, error) {
	if strings.Count(s, "${") != len(placeholderRegex.FindAllStringIndex(s, -1)) {
		return nil, fmt.Errorf("malformed placeholder in %q", s)
	}

	var placeholders []string

	seen := make(map[string]bool)

	for _, match := range placeholderRegex.FindAllStringSubmatch(s, -1) {
		if name := match[1]; !seen[name] {
			placeholders = append(placeholders, name)
			seen[name] = true
		}
	}

	return &Template{raw: s, placeholders: placeholders}, nil
}

// Placeholders returns the unique placeholder names in order of appearance.
func (t *Template) Placeholders() []string {
	return t.placeholders
}

// Expand replaces all placeholders with their values from vars.
func (t *Template) Expand(vars map[string]string) (string, error) {
	for _, name := range t.placeholders {
		if _, ok := vars[name]; !ok {
			return "", fmt.Errorf("%w ${%s} in %q", ErrUnknownPlaceholder, name, t.raw)
		}
	}

	return placeholderRegex.ReplaceAllStringFunc(t.raw, func(m string) string {
		return vars[m[2:len(m)-1]]
	}), nil
}

// ExpandAll expands every string of templates with the same vars.
func ExpandAll(templates []string, vars map[string]string) ([]string, error) {
	result := make([]string, len(templates))

	for i, s := range templates {
		tmpl, err := Parse(s)
		if err != nil {
			return nil, err
		}

		if result[i], err = tmpl.Expand(vars); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Validate checks that templates are well-formed and reference only the
// placeholders in known.
func Validate(templates []string, known ...string) error {
	vars := make(map[string]string, len(known))
	for _, k := range known {
		vars[k] = ""
	}

	_, err := ExpandAll(templates, vars)

	return err
}

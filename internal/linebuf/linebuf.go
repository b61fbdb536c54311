// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linebuf reassembles newline-delimited lines from arbitrary byte chunks.
package linebuf

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxLine is the default upper bound for a single buffered line.
	DefaultMaxLine = 64 * 1024
	// MinMaxLine is the smallest effective bound. Smaller bounds are raised to
	// it, a shorter cut could not hold a complete character.
	MinMaxLine = utf8.UTFMax
)

// Reassembler buffers raw bytes from a stream and hands out complete lines.
//
// Bytes are kept undecoded until a line is complete. A newline byte never occurs
// inside a multi-byte UTF-8 sequence, so characters split across chunks are
// reassembled intact. Invalid sequences in a completed line are replaced with
// U+FFFD.
//
// A Reassembler is not safe for concurrent use. The zero value is ready to use
// with [DefaultMaxLine].
type Reassembler struct {
	// MaxLine bounds the length of a buffered line. A line growing beyond MaxLine
	// bytes is emitted early, cut at a character boundary. Zero means DefaultMaxLine,
	// a negative value disables the bound. Positive values below MinMaxLine count
	// as MinMaxLine.
	MaxLine int

	buf []byte
}

// Feed appends chunk to the buffer and returns all lines completed by it, in order
// and without their trailing newline. Any partial line stays buffered.
func (r *Reassembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	r.buf = append(r.buf, chunk...)

	var lines []string

	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			break
		}

		lines = append(lines, decode(r.buf[:idx]))
		r.buf = r.buf[idx+1:]
	}

	limit := r.maxLine()
	for limit > 0 && len(r.buf) > limit {
		cut := runeBoundary(r.buf, limit)
		lines = append(lines, decode(r.buf[:cut]))
		r.buf = r.buf[cut:]
	}

	r.compact()

	return lines
}

// Flush returns the buffered partial line, if any, and resets the buffer.
// It is called once the stream is closed so no content crosses the end of the stream.
func (r *Reassembler) Flush() (string, bool) {
	if len(r.buf) == 0 {
		return "", false
	}

	line := decode(r.buf)
	r.buf = nil

	return line, true
}

// Buffered reports the number of bytes waiting for a newline.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

func (r *Reassembler) maxLine() int {
	switch {
	case r.MaxLine == 0:
		return DefaultMaxLine
	case r.MaxLine < 0:
		return 0
	case r.MaxLine < MinMaxLine:
		return MinMaxLine
	default:
		return r.MaxLine
	}
}

// compact drops the consumed prefix of the backing array once the buffer is empty.
func (r *Reassembler) compact() {
	if len(r.buf) == 0 {
		r.buf = nil
	}
}

// runeBoundary returns the largest index <= limit that does not split a UTF-8
// sequence. If no boundary is found in reach, limit is returned.
func runeBoundary(b []byte, limit int) int {
	for i := limit; i > limit-utf8.UTFMax && i > 0; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}

	return limit
}

func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

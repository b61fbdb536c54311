// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakes

import (
	"slices"
	"sync"

	"github.com/BlindspotSoftware/fpgactl/internal/logline"
)

// RecordingSink is a logline.Sink that keeps every event it receives.
//
// Methods are safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []logline.Event
}

var _ logline.Sink = &RecordingSink{}

func (s *RecordingSink) Emit(ev logline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

// Events returns a copy of the received events in order.
func (s *RecordingSink) Events() []logline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.events)
}

// Texts returns the text of every received event in order.
func (s *RecordingSink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		texts = append(texts, ev.Text)
	}

	return texts
}

// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"sync"
	"sync/atomic"

	"github.com/BlindspotSoftware/fpgactl/internal/logline"
)

// DefaultSubscriberBuffer is the channel capacity of a subscription.
const DefaultSubscriberBuffer = 256

// HubConfig configures a Hub.
type HubConfig struct {
	// Sinks receive every event synchronously, in order.
	Sinks []logline.Sink
	// Buffer is the channel capacity per subscriber. Zero means DefaultSubscriberBuffer.
	Buffer int
	// OnDrop is called for every event dropped for a slow subscriber.
	OnDrop func()
}

// Hub fans classified events out to a fixed set of sinks and to any number of
// subscribers. A subscriber that does not keep up loses events; the Hub never
// blocks the emitter. Each subscriber receives events in emission order.
type Hub struct {
	sinks  []logline.Sink
	buffer int
	onDrop func()

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	dropped atomic.Uint64
}

var _ logline.Sink = &Hub{}

// NewHub returns a Hub for cfg.
func NewHub(cfg HubConfig) *Hub {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	return &Hub{
		sinks:  cfg.Sinks,
		buffer: buffer,
		onDrop: cfg.OnDrop,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Emit implements logline.Sink.
func (h *Hub) Emit(ev logline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sinks {
		s.Emit(ev)
	}

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)

			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// Subscribe registers a new subscriber. The caller must Close the subscription.
// After the Hub is closed, the returned subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub: h,
		ch:  make(chan logline.Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)

		return sub
	}

	h.subs[sub] = struct{}{}

	return sub
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Dropped returns the number of events dropped over all subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends all subscriptions. Events emitted afterwards reach the sinks only.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}

	delete(h.subs, sub)
	close(sub.ch)
}

// Subscription is a live view of the events of a Hub.
type Subscription struct {
	hub     *Hub
	ch      chan logline.Event
	dropped atomic.Uint64
}

// Events returns the channel events are delivered on. It is closed by Close or
// when the Hub is closed.
func (s *Subscription) Events() <-chan logline.Event {
	return s.ch
}

// Dropped returns the number of events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

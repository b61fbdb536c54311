// Copyright 2025 Blindspot Software
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exposes Prometheus metrics of the agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/BlindspotSoftware/fpgactl/internal/logline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fpgactl"

// Results of a terminal command.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds the agent's collectors. All methods are safe for concurrent use,
// and a nil *Metrics discards all observations.
type Metrics struct {
	registry *prometheus.Registry

	terminalEvents   *prometheus.CounterVec
	terminalCommands *prometheus.CounterVec
	terminalRunning  prometheus.Gauge
	droppedEvents    prometheus.Counter
	programOps       *prometheus.CounterVec
	programDuration  prometheus.Histogram
}

var _ logline.Sink = &Metrics{}

// New creates the collectors and registers them, together with the Go runtime
// and process collectors, with a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		terminalEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "terminal",
				Name:      "events_total",
				Help:      "Classified terminal lines by severity.",
			},
			[]string{"severity"},
		),
		terminalCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "terminal",
				Name:      "commands_total",
				Help:      "Commands sent to the terminal by result.",
			},
			[]string{"result"},
		),
		terminalRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "terminal",
				Name:      "running",
				Help:      "Whether the terminal process is running.",
			},
		),
		droppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "logs",
				Name:      "dropped_events_total",
				Help:      "Events dropped for slow log subscribers.",
			},
		),
		programOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "program",
				Name:      "operations_total",
				Help:      "Programming operations by outcome.",
			},
			[]string{"outcome"},
		),
		programDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "program",
				Name:      "duration_seconds",
				Help:      "Duration of programming operations in seconds.",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
		),
	}

	m.registry.MustRegister(
		m.terminalEvents,
		m.terminalCommands,
		m.terminalRunning,
		m.droppedEvents,
		m.programOps,
		m.programDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry all collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Emit counts a classified terminal line. It implements logline.Sink.
func (m *Metrics) Emit(ev logline.Event) {
	if m == nil {
		return
	}

	m.terminalEvents.WithLabelValues(ev.Severity.String()).Inc()
}

// RecordCommand counts a command sent to the terminal.
func (m *Metrics) RecordCommand(err error) {
	if m == nil {
		return
	}

	result := ResultOK
	if err != nil {
		result = ResultFailed
	}

	m.terminalCommands.WithLabelValues(result).Inc()
}

// SetTerminalRunning records whether the terminal is running.
func (m *Metrics) SetTerminalRunning(running bool) {
	if m == nil {
		return
	}

	if running {
		m.terminalRunning.Set(1)
	} else {
		m.terminalRunning.Set(0)
	}
}

// RecordDroppedEvent counts an event lost for a slow log subscriber.
func (m *Metrics) RecordDroppedEvent() {
	if m == nil {
		return
	}

	m.droppedEvents.Inc()
}

// RecordProgram counts a finished programming operation.
func (m *Metrics) RecordProgram(outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.programOps.WithLabelValues(outcome).Inc()
	m.programDuration.Observe(duration.Seconds())
}

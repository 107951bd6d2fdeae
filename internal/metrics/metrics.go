// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package metrics collects Prometheus metrics for the installation engine:
// job throughput, event reducer activity and watchdog firings. Exposed
// over the HTTP API's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the engine's Prometheus instruments. Each Collector has
// its own registry so tests can create them freely.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted     prometheus.Counter
	jobsTerminal    *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	eventsApplied   prometheus.Counter
	eventsDiscarded *prometheus.CounterVec
	watchdogFired   prometheus.Counter
}

// NewCollector creates and registers the engine's instruments.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eprinty_jobs_started_total",
			Help: "Total number of installation jobs accepted",
		}),
		jobsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eprinty_jobs_terminal_total",
			Help: "Total number of jobs reaching a terminal state, by state",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eprinty_job_duration_seconds",
			Help:    "End-to-end installation job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		eventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eprinty_events_applied_total",
			Help: "Total number of progress events applied by the reducer",
		}),
		eventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eprinty_events_discarded_total",
			Help: "Total number of progress events discarded by the reducer, by reason",
		}, []string{"reason"}),
		watchdogFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eprinty_watchdog_fired_total",
			Help: "Total number of jobs force-failed by the terminal-event watchdog",
		}),
	}

	c.registry.MustRegister(
		c.jobsStarted,
		c.jobsTerminal,
		c.jobDuration,
		c.eventsApplied,
		c.eventsDiscarded,
		c.watchdogFired,
	)

	return c
}

// JobStarted records an accepted job.
func (c *Collector) JobStarted() {
	c.jobsStarted.Inc()
}

// JobTerminal records a job reaching a terminal state.
func (c *Collector) JobTerminal(state string, durationSeconds float64) {
	c.jobsTerminal.WithLabelValues(state).Inc()

	if durationSeconds > 0 {
		c.jobDuration.Observe(durationSeconds)
	}
}

// EventApplied records a reducer-applied event.
func (c *Collector) EventApplied() {
	c.eventsApplied.Inc()
}

// EventDiscarded records a reducer-discarded event with the discard reason.
func (c *Collector) EventDiscarded(reason string) {
	c.eventsDiscarded.WithLabelValues(reason).Inc()
}

// WatchdogFired records a watchdog-synthesized job failure.
func (c *Collector) WatchdogFired() {
	c.watchdogFired.Inc()
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

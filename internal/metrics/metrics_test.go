// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.JobStarted()
	c.JobStarted()
	c.JobTerminal("success", 1.5)
	c.JobTerminal("failed", 0)
	c.EventApplied()
	c.EventDiscarded("stale")
	c.WatchdogFired()

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	byName := map[string]float64{}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				byName[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 2.0, byName["eprinty_jobs_started_total"])
	assert.Equal(t, 2.0, byName["eprinty_jobs_terminal_total"])
	assert.Equal(t, 1.0, byName["eprinty_events_applied_total"])
	assert.Equal(t, 1.0, byName["eprinty_events_discarded_total"])
	assert.Equal(t, 1.0, byName["eprinty_watchdog_fired_total"])
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.JobStarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "eprinty_jobs_started_total 1")
}

func TestNewCollector_Independent(t *testing.T) {
	// Two collectors must not clash on registration.
	a := NewCollector()
	b := NewCollector()

	a.JobStarted()
	b.JobStarted()
}

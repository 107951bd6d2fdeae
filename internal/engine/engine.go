// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package engine assembles the printer installation engine: the
// pipeline orchestrator producing events, the reducer store consuming
// them, and the fan-out hub feeding HTTP subscribers.
package engine

import (
	"context"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/config"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/httpapi"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/metrics"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/pipeline"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/reduce"
)

// reporterBuffer sizes the event channel between producer and consumers.
const reporterBuffer = 1024

// Engine owns the full producer/consumer topology for one process.
type Engine struct {
	Orchestrator *pipeline.Orchestrator
	Store        *reduce.Store
	Hub          *httpapi.Hub
	Collector    *metrics.Collector

	reporter *protocol.ChannelReporter
}

// New wires an Engine from the given configuration. The reporter fans
// events out to the reducer store and the HTTP hub.
func New(ctx context.Context, cfg *config.Config, opts ...pipeline.Option) *Engine {
	collector := metrics.NewCollector()

	reporter := protocol.NewChannelReporter(ctx, reporterBuffer)

	store := reduce.NewStore(
		reduce.WithWindow(cfg.Reducer.WatchdogWindow.Std()),
		reduce.WithCollector(collector),
		reduce.WithLogContext(ctx),
	)

	hub := httpapi.NewHub()

	reporter.Listen(protocol.MultiListener{store, hub})

	orch := pipeline.New(cfg.Install, reporter,
		append([]pipeline.Option{pipeline.WithCollector(collector)}, opts...)...)

	return &Engine{
		Orchestrator: orch,
		Store:        store,
		Hub:          hub,
		Collector:    collector,
		reporter:     reporter,
	}
}

// Close winds the engine down: running jobs are canceled and drained,
// then the event stream and its consumers are released.
func (e *Engine) Close() {
	e.Orchestrator.Close()
	e.reporter.Close()
	e.Hub.Close()
	e.Store.Close()
}

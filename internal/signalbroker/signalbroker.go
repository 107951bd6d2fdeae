// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker listens for OS termination signals. The first
// signal requests graceful shutdown via context cancellation; a repeat
// of the same signal terminates the process immediately, so a stuck
// shutdown can always be escaped.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
)

var termSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	os.Interrupt,
}

// New creates a channel receiving the signals that should terminate the
// process. With no arguments it listens for the default termination set.
func New(ctx context.Context, sigs ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, 1)

	if len(sigs) == 0 {
		sigs = termSignals
	}

	ctxlog.Debug(ctx, "signalbroker listening", "signals", sigs)
	signal.Notify(ch, sigs...)

	return ch
}

// Watch consumes sigCh. The first signal cancels the context so running
// jobs can wind down; a second signal of the same type exits via the
// exit function (os.Exit in production).
func Watch(ctx context.Context, sigCh chan os.Signal, cancel context.CancelFunc, exit func(int)) {
	if exit == nil {
		exit = os.Exit
	}

	seen := make(map[os.Signal]struct{})

	for sig := range sigCh {
		if _, ok := seen[sig]; ok {
			ctxlog.Warn(ctx, "repeated signal, terminating immediately", "signal", sig.String())
			exit(1)

			return
		}

		ctxlog.Info(ctx, "signal received, shutting down gracefully", "signal", sig.String())
		seen[sig] = struct{}{}

		cancel()
	}
}

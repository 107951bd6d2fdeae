// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
)

func TestWatch_FirstSignalCancelsGracefully(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)

	sigCh := make(chan os.Signal, 1)

	var exited bool

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		Watch(ctx, sigCh, cancel, func(int) { exited = true })
	}()

	sigCh <- os.Interrupt

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after first signal")
	}

	close(sigCh)
	wg.Wait()

	assert.False(t, exited, "first signal must not terminate the process")
}

func TestWatch_RepeatedSignalExits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)

	sigCh := make(chan os.Signal, 2)

	var (
		mu       sync.Mutex
		exitCode = -1
	)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		Watch(ctx, sigCh, cancel, func(code int) {
			mu.Lock()
			exitCode = code
			mu.Unlock()
		})
	}()

	sigCh <- os.Interrupt
	sigCh <- os.Interrupt

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, exitCode)
}

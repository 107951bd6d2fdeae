// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"sync"
)

// Reporter is the interface for sending events to a consumer.
// Implementations should be non-blocking and tolerate the receiver not
// listening.
type Reporter interface {
	// Report sends an event. Implementations must not block event
	// delivery for other jobs.
	Report(event Event)
	// Close signals that no more events will be sent and releases resources.
	Close()
}

// Listener receives events from a Reporter-backed stream.
type Listener interface {
	// OnEvent is called for each received event. Implementations should
	// return quickly to avoid blocking the delivery goroutine.
	OnEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(event Event) {
	f(event)
}

// ChannelReporter implements Reporter over a buffered Go channel.
// Events are dropped rather than blocking when the buffer is full or the
// reporter is closed.
type ChannelReporter struct {
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewChannelReporter creates a ChannelReporter with the given buffer size.
// A larger buffer reduces the chance of dropped events under bursts.
func NewChannelReporter(ctx context.Context, bufferSize int) *ChannelReporter {
	reporterCtx, cancel := context.WithCancel(ctx)

	return &ChannelReporter{
		ch:     make(chan Event, bufferSize),
		ctx:    reporterCtx,
		cancel: cancel,
	}
}

// Report implements Reporter. It sends the event without blocking; if the
// channel is full or the reporter is closed the event is dropped.
func (cr *ChannelReporter) Report(event Event) {
	// The read lock excludes Close, so the channel cannot be closed
	// between the flag check and the send.
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	if cr.closed {
		return
	}

	select {
	case cr.ch <- event:
	case <-cr.ctx.Done():
	default:
	}
}

// Close implements Reporter. It cancels the context, closes the channel
// and waits for any listener goroutine to drain. Close is safe to call
// concurrently with Report.
func (cr *ChannelReporter) Close() {
	cr.once.Do(func() {
		cr.mu.Lock()
		cr.closed = true
		cr.mu.Unlock()

		cr.cancel()
		close(cr.ch)
		cr.wg.Wait()
	})
}

// Listen forwards events to the listener on a dedicated goroutine until
// the reporter closes.
func (cr *ChannelReporter) Listen(listener Listener) {
	cr.wg.Add(1)

	go func() {
		defer cr.wg.Done()

		for {
			select {
			case event, ok := <-cr.ch:
				if !ok {
					return
				}

				listener.OnEvent(event)
			case <-cr.ctx.Done():
				return
			}
		}
	}()
}

// Events returns the underlying read-only event channel for manual
// consumption instead of a Listener.
func (cr *ChannelReporter) Events() <-chan Event {
	return cr.ch
}

// NullReporter is a no-op Reporter for callers that do not need events.
type NullReporter struct{}

// Report implements Reporter by doing nothing.
func (nr *NullReporter) Report(_ Event) {}

// Close implements Reporter by doing nothing.
func (nr *NullReporter) Close() {}

// NewNullReporter creates a new NullReporter.
func NewNullReporter() Reporter {
	return &NullReporter{}
}

// MultiListener fans one event stream out to several listeners in order.
type MultiListener []Listener

// OnEvent implements Listener.
func (ml MultiListener) OnEvent(event Event) {
	for _, l := range ml {
		l.OnEvent(event)
	}
}

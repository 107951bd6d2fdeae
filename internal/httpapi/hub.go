// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package httpapi

import (
	"sync"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

// subscriberBuffer bounds each subscriber's backlog. A slow reader drops
// events rather than stalling delivery to everyone else.
const subscriberBuffer = 64

// Hub fans the event stream out to HTTP subscribers. It implements
// protocol.Listener so it can be attached next to the reducer on the
// same reporter.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan protocol.Event]string
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[chan protocol.Event]string{}}
}

// OnEvent implements protocol.Listener. Delivery to each subscriber is
// non-blocking.
func (h *Hub) OnEvent(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, jobID := range h.subs {
		if jobID != "" && jobID != ev.JobID {
			continue
		}

		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber. An empty jobID receives every job's
// events. The returned cancel function must be called when done.
func (h *Hub) Subscribe(jobID string) (<-chan protocol.Event, func()) {
	ch := make(chan protocol.Event, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)

		return ch, func() {}
	}

	h.subs[ch] = jobID
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Close drops all subscribers and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

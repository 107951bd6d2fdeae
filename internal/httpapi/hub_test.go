// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

func TestHub_FiltersByJobID(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	all, cancelAll := hub.Subscribe("")
	defer cancelAll()

	one, cancelOne := hub.Subscribe("job-1")
	defer cancelOne()

	hub.OnEvent(protocol.Event{JobID: "job-1", StepID: "extract", State: protocol.StateRunning})
	hub.OnEvent(protocol.Event{JobID: "job-2", StepID: "extract", State: protocol.StateRunning})

	require.Len(t, all, 2)
	require.Len(t, one, 1)

	ev := <-one
	assert.Equal(t, "job-1", ev.JobID)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe("")
	defer cancel()

	for range subscriberBuffer + 10 {
		hub.OnEvent(protocol.Event{JobID: "j", StepID: "s", State: protocol.StateRunning})
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe("")
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Delivery after unsubscribe is a no-op.
	hub.OnEvent(protocol.Event{JobID: "j", StepID: "s", State: protocol.StateRunning})
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()

	ch, cancel := hub.Subscribe("")
	defer cancel()

	_, open := <-ch
	assert.False(t, open)
}

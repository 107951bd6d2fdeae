// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Known(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, true},
		{StateQueued, true},
		{StateRunning, true},
		{StateSuccess, true},
		{StateSkipped, true},
		{StateFailed, true},
		{StateCanceled, true},
		{State("exploded"), false},
		{State(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.Known())
		})
	}
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateSuccess.TerminalStep())
	assert.True(t, StateSkipped.TerminalStep())
	assert.True(t, StateFailed.TerminalStep())
	assert.False(t, StateRunning.TerminalStep())
	assert.False(t, StatePending.TerminalStep())

	assert.True(t, StateSuccess.TerminalJob())
	assert.True(t, StateFailed.TerminalJob())
	assert.True(t, StateCanceled.TerminalJob())
	assert.False(t, StateQueued.TerminalJob())
	assert.False(t, StateRunning.TerminalJob())
}

func TestIsControl(t *testing.T) {
	assert.True(t, IsControl(StepJobInit))
	assert.True(t, IsControl(StepJobDone))
	assert.True(t, IsControl(StepJobFailed))
	assert.False(t, IsControl("extract"))
	assert.False(t, IsControl(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr error
	}{
		{
			name:  "valid step event",
			event: Event{JobID: "j1", StepID: "extract", State: StateRunning},
		},
		{
			name:    "missing job id",
			event:   Event{StepID: "extract", State: StateRunning},
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "missing step id",
			event:   Event{JobID: "j1", State: StateRunning},
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "unknown state",
			event:   Event{JobID: "j1", StepID: "extract", State: State("melted")},
			wantErr: ErrUnknownState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.event)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestDecode(t *testing.T) {
	data := []byte(`{"jobId":"j1","stepId":"extract","state":"running","tsMs":1700000000000,"message":"unpacking"}`)

	ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, "extract", ev.StepID)
	assert.Equal(t, StateRunning, ev.State)
	assert.Equal(t, int64(1700000000000), ev.TsMs)
	assert.Equal(t, "unpacking", ev.Message)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrDecodeEvent)

	_, err = Decode([]byte(`{"stepId":"extract","state":"running"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNormalize_DefaultsTimestamp(t *testing.T) {
	now := time.Now()
	ev := Event{JobID: "j1", StepID: "extract", State: StateRunning}
	ev.Normalize(now)
	assert.Equal(t, now.UnixMilli(), ev.TsMs)

	stamped := Event{JobID: "j1", StepID: "extract", State: StateRunning, TsMs: 42}
	stamped.Normalize(now)
	assert.Equal(t, int64(42), stamped.TsMs)
}

func TestNullReporter(t *testing.T) {
	reporter := NewNullReporter()
	require.NotNil(t, reporter)

	reporter.Report(Event{JobID: "j1", StepID: "extract", State: StateRunning})
	reporter.Close()
}

func TestChannelReporter(t *testing.T) {
	ctx := context.Background()
	reporter := NewChannelReporter(ctx, 10)
	require.NotNil(t, reporter)

	event := Event{JobID: "j1", StepID: "extract", State: StateRunning, Message: "unpacking"}
	reporter.Report(event)

	select {
	case received := <-reporter.Events():
		assert.Equal(t, event, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("event not received within timeout")
	}

	reporter.Close()

	// Closed reporter drops events rather than panicking.
	reporter.Report(Event{JobID: "j1", StepID: "verify", State: StateSuccess})
}

func TestChannelReporter_BufferFullDrops(t *testing.T) {
	reporter := NewChannelReporter(context.Background(), 1)

	reporter.Report(Event{JobID: "j1", StepID: "a", State: StateRunning})
	// Buffer is full; this must not block.
	reporter.Report(Event{JobID: "j1", StepID: "b", State: StateRunning})

	reporter.Close()
}

func TestChannelReporter_ReportRacesClose(t *testing.T) {
	reporter := NewChannelReporter(context.Background(), 4)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range 200 {
				reporter.Report(Event{JobID: "j1", StepID: "extract", State: StateRunning, TsMs: int64(i)})
			}
		}()
	}

	// Closing while reporters are in flight must never panic with a send
	// on a closed channel.
	reporter.Close()
	wg.Wait()

	reporter.Report(Event{JobID: "j1", StepID: "verify", State: StateSuccess})
}

type recordingListener struct {
	events []Event
}

func (rl *recordingListener) OnEvent(event Event) {
	rl.events = append(rl.events, event)
}

func TestChannelReporter_Listen(t *testing.T) {
	reporter := NewChannelReporter(context.Background(), 10)
	listener := &recordingListener{}
	reporter.Listen(listener)

	events := []Event{
		{JobID: "j1", StepID: "extract", State: StateRunning},
		{JobID: "j1", StepID: "extract", State: StateSuccess},
		{JobID: "j1", StepID: StepJobDone, State: StateSuccess},
	}

	for _, event := range events {
		reporter.Report(event)
	}

	// Give the listener goroutine time to drain before closing.
	time.Sleep(10 * time.Millisecond)
	reporter.Close()

	require.Len(t, listener.events, len(events))

	for i, expected := range events {
		assert.Equal(t, expected.StepID, listener.events[i].StepID)
		assert.Equal(t, expected.State, listener.events[i].State)
	}
}

func TestMultiListener(t *testing.T) {
	a := &recordingListener{}
	b := &recordingListener{}

	ml := MultiListener{a, b}
	ml.OnEvent(Event{JobID: "j1", StepID: "extract", State: StateRunning})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

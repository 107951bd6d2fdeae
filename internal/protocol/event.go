// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package protocol

import (
	"time"
)

// State is the lifecycle state carried by an event. Step events use the
// pending/running/success/skipped/failed subset; job control events use
// queued/running/success/failed/canceled.
type State string

const (
	// StatePending indicates a step that has not started yet.
	StatePending State = "pending"
	// StateQueued indicates a job that has been accepted but not started.
	StateQueued State = "queued"
	// StateRunning indicates a step or job that is executing.
	StateRunning State = "running"
	// StateSuccess indicates successful completion.
	StateSuccess State = "success"
	// StateSkipped indicates a step that was intentionally not executed.
	StateSkipped State = "skipped"
	// StateFailed indicates a step or job that failed.
	StateFailed State = "failed"
	// StateCanceled indicates a job that was canceled before completion.
	StateCanceled State = "canceled"
)

// Known reports whether s is a recognized state.
func (s State) Known() bool {
	switch s {
	case StatePending, StateQueued, StateRunning, StateSuccess, StateSkipped, StateFailed, StateCanceled:
		return true
	}

	return false
}

// TerminalStep reports whether s is a terminal state for a step.
func (s State) TerminalStep() bool {
	return s == StateSuccess || s == StateSkipped || s == StateFailed
}

// TerminalJob reports whether s is a terminal state for a job.
func (s State) TerminalJob() bool {
	return s == StateSuccess || s == StateFailed || s == StateCanceled
}

// Job-level control step ids. Events carrying these ids drive job state
// transitions and metadata only; they are never rendered as steps.
const (
	// StepJobInit announces an accepted job, its install mode and meta.
	StepJobInit = "job.init"
	// StepJobDone is the terminal sentinel for a successful job.
	StepJobDone = "job.done"
	// StepJobFailed is the terminal sentinel for a failed or canceled job.
	StepJobFailed = "job.failed"
)

// IsControl reports whether stepID is a job-level control id.
func IsControl(stepID string) bool {
	return stepID == StepJobInit || stepID == StepJobDone || stepID == StepJobFailed
}

// Error codes attached to failure events so consumers can distinguish
// failure classes without parsing messages.
const (
	// CodeTimeout marks a step whose external action exceeded its deadline.
	CodeTimeout = "TIMEOUT"
	// CodeTerminalEventTimeout marks a watchdog-synthesized failure for a
	// job whose terminal event never arrived.
	CodeTerminalEventTimeout = "TERMINAL_EVENT_TIMEOUT"
	// CodeCanceled marks a step failed due to job cancellation.
	CodeCanceled = "CANCELED"
	// CodeArchive marks an archive open/corruption/traversal failure.
	CodeArchive = "ARCHIVE"
	// CodeToolFailed marks a non-zero exit from an external tool.
	CodeToolFailed = "TOOL_FAILED"
	// CodeIO marks a generic I/O failure.
	CodeIO = "IO"
)

// Progress carries optional quantitative progress for a step.
type Progress struct {
	Current int64   `json:"current"`
	Total   int64   `json:"total,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Unit    string  `json:"unit,omitempty"`
}

// ErrorInfo carries failure detail for a step or job, including captured
// output from external tools where available.
type ErrorInfo struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// Event is an immutable, timestamped fact about one step or job.
// Events are the only mutator of consumer-side state. JobID, StepID and
// State are required; everything else degrades gracefully when absent.
type Event struct {
	JobID    string            `json:"jobId" validate:"required"`
	StepID   string            `json:"stepId" validate:"required"`
	State    State             `json:"state" validate:"required"`
	TsMs     int64             `json:"tsMs,omitempty"`
	Message  string            `json:"message,omitempty"`
	Progress *Progress         `json:"progress,omitempty"`
	Error    *ErrorInfo        `json:"error,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Normalize fills defaulted fields in place. A missing timestamp is set to
// the receipt time.
func (e *Event) Normalize(receivedAt time.Time) {
	if e.TsMs == 0 {
		e.TsMs = receivedAt.UnixMilli()
	}
}

// Timestamp returns the event time as a time.Time.
func (e *Event) Timestamp() time.Time {
	return time.UnixMilli(e.TsMs)
}

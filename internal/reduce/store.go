// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package reduce

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/metrics"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

// DefaultWatchdogWindow bounds how long a job may go without any applied
// event before the store synthesizes a terminal failure.
const DefaultWatchdogWindow = 12 * time.Second

// unknownEventCap bounds the per-job diagnostics trail of unroutable events.
const unknownEventCap = 32

// Discard reasons, used for logging and metrics labels.
const (
	discardInvalid      = "invalid"
	discardJobTerminal  = "job-terminal"
	discardStepTerminal = "step-terminal"
	discardStale        = "stale"
	discardDuplicate    = "duplicate"
	discardUnknownStep  = "unknown-step"
	discardBadStepState = "bad-step-state"
)

// Store holds the jobId -> snapshot map and applies events to it.
// Apply and the watchdog callbacks are serialized by a single mutex, so
// snapshots are mutated under single-writer discipline.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*JobSnapshot
	timers   map[string]*time.Timer
	activity map[string]time.Time
	current  string

	window    time.Duration
	clock     func() time.Time
	collector *metrics.Collector
	onChange  func(jobID string)
	logCtx    context.Context
	closed    bool
}

// Option configures a Store.
type Option func(*Store)

// WithWindow sets the watchdog window. A zero or negative window disables
// the watchdog.
func WithWindow(d time.Duration) Option {
	return func(s *Store) { s.window = d }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithCollector wires metrics collection.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Store) { s.collector = c }
}

// WithOnChange registers a callback invoked (outside the lock) after a
// job's snapshot changes.
func WithOnChange(fn func(jobID string)) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithLogContext sets the context used for the store's own logging.
func WithLogContext(ctx context.Context) Option {
	return func(s *Store) { s.logCtx = ctx }
}

// NewStore creates an empty snapshot store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:     map[string]*JobSnapshot{},
		timers:   map[string]*time.Timer{},
		activity: map[string]time.Time{},
		window:   DefaultWatchdogWindow,
		clock:    time.Now,
		logCtx:   context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OnEvent implements protocol.Listener.
func (s *Store) OnEvent(ev protocol.Event) {
	s.Apply(ev)
}

// Apply folds one event into the snapshot map, enforcing the protection
// rules in order: reject invalid events, guard terminal jobs, route
// control events, guard terminal steps, drop stale timestamps, suppress
// duplicates, then apply and recompute.
func (s *Store) Apply(ev protocol.Event) {
	ev.Normalize(s.clock())

	if err := protocol.Validate(ev); err != nil {
		s.discard(ev, discardInvalid)
		ctxlog.Debug(s.logCtx, "dropping malformed event", "error", err)

		return
	}

	var changed string

	s.mu.Lock()

	job, ok := s.jobs[ev.JobID]
	if !ok {
		job = newJobSnapshot(ev.JobID)
		s.jobs[ev.JobID] = job
		s.armWatchdogLocked(ev.JobID)
	}

	if job.State.TerminalJob() && (ev.State == protocol.StatePending || ev.State == protocol.StateRunning) {
		s.mu.Unlock()
		s.discard(ev, discardJobTerminal)

		return
	}

	if protocol.IsControl(ev.StepID) {
		changed = s.applyControlLocked(job, ev)
	} else {
		changed = s.applyStepLocked(job, ev)
	}

	s.mu.Unlock()

	if changed != "" && s.onChange != nil {
		s.onChange(changed)
	}
}

// applyControlLocked routes a job-level control event. Control events
// mutate job metadata and terminal state only; they are never rendered as
// steps.
func (s *Store) applyControlLocked(job *JobSnapshot, ev protocol.Event) string {
	switch ev.StepID {
	case protocol.StepJobInit:
		if modeStr, ok := ev.Meta["mode"]; ok && !job.planKnown {
			if p, err := plan.ForMode(plan.Mode(modeStr)); err == nil {
				job.materializePlan(p)
			} else {
				ctxlog.Warn(s.logCtx, "job.init carried unknown mode", "jobId", job.ID, "mode", modeStr)
			}
		}

		if t, ok := ev.Meta["targetName"]; ok {
			job.Target = t
		}

		for k, v := range ev.Meta {
			job.Meta[k] = v
		}

		if job.State == protocol.StateQueued {
			job.State = protocol.StateRunning
		}

		if job.StartedAtMs == 0 {
			job.StartedAtMs = ev.TsMs
		}

		s.touchWatchdogLocked(job.ID)

	case protocol.StepJobDone:
		if job.State.TerminalJob() {
			s.discard(ev, discardDuplicate)
			return ""
		}

		s.finishJobLocked(job, protocol.StateSuccess, ev.TsMs, nil)

	case protocol.StepJobFailed:
		if job.State.TerminalJob() {
			s.discard(ev, discardDuplicate)
			return ""
		}

		state := protocol.StateFailed
		if ev.State == protocol.StateCanceled {
			state = protocol.StateCanceled
		}

		s.finishJobLocked(job, state, ev.TsMs, ev.Error)
	}

	if s.collector != nil {
		s.collector.EventApplied()
	}

	return job.ID
}

// applyStepLocked folds a step event, enforcing the step-level protection
// rules.
func (s *Store) applyStepLocked(job *JobSnapshot, ev protocol.Event) string {
	if !ev.State.TerminalStep() && ev.State != protocol.StatePending && ev.State != protocol.StateRunning {
		s.discard(ev, discardBadStepState)
		return ""
	}

	step, ok := job.stepsByID[ev.StepID]
	if !ok {
		if len(job.Unknown) < unknownEventCap {
			job.Unknown = append(job.Unknown, ev)
		}

		s.discard(ev, discardUnknownStep)

		return ""
	}

	if step.State.TerminalStep() && (ev.State == protocol.StatePending || ev.State == protocol.StateRunning) {
		s.discard(ev, discardStepTerminal)
		return ""
	}

	if ev.TsMs < step.UpdatedAtMs {
		s.discard(ev, discardStale)
		return ""
	}

	enc, err := protocol.Encode(ev)
	if err == nil && bytes.Equal(enc, step.lastApplied) {
		s.discard(ev, discardDuplicate)
		return ""
	}

	if step.State == protocol.StatePending && ev.State == protocol.StateRunning && step.StartedAtMs == 0 {
		step.StartedAtMs = ev.TsMs
	}

	step.State = ev.State
	step.UpdatedAtMs = ev.TsMs

	if ev.Message != "" {
		step.Message = ev.Message
	}

	if ev.Progress != nil {
		p := *ev.Progress
		step.Progress = &p
	}

	if ev.Error != nil {
		e := *ev.Error
		step.Error = &e
	}

	if ev.State.TerminalStep() && step.EndedAtMs == 0 {
		step.EndedAtMs = ev.TsMs
	}

	step.lastApplied = enc

	if s.collector != nil {
		s.collector.EventApplied()
	}

	s.recomputeJobLocked(job, ev.TsMs)
	s.touchWatchdogLocked(job.ID)

	return job.ID
}

// recomputeJobLocked derives the job state from the plan's steps: failed
// if any step failed, success if all terminal and none failed, running if
// any step is running, otherwise unchanged.
func (s *Store) recomputeJobLocked(job *JobSnapshot, tsMs int64) {
	if job.State.TerminalJob() || !job.planKnown {
		return
	}

	anyFailed := false
	anyRunning := false
	allDone := len(job.Steps) > 0

	for _, st := range job.Steps {
		switch st.State {
		case protocol.StateFailed:
			anyFailed = true
		case protocol.StateRunning:
			anyRunning = true
		}

		if !st.State.TerminalStep() {
			allDone = false
		}
	}

	switch {
	case anyFailed:
		s.finishJobLocked(job, protocol.StateFailed, tsMs, nil)
	case allDone:
		s.finishJobLocked(job, protocol.StateSuccess, tsMs, nil)
	case anyRunning:
		job.State = protocol.StateRunning
	}
}

// finishJobLocked transitions a job into a terminal state. Steps that
// never started are explicitly marked skipped so nothing is left pending
// forever.
func (s *Store) finishJobLocked(job *JobSnapshot, state protocol.State, tsMs int64, errInfo *protocol.ErrorInfo) {
	job.State = state
	job.TerminalAtMs = tsMs

	if errInfo != nil {
		e := *errInfo
		job.Error = &e
	}

	for _, st := range job.Steps {
		if st.State == protocol.StatePending {
			st.State = protocol.StateSkipped
			st.Message = "not attempted"
			st.UpdatedAtMs = tsMs
			st.EndedAtMs = tsMs
		}
	}

	s.stopWatchdogLocked(job.ID)

	if s.collector != nil {
		seconds := 0.0
		if job.StartedAtMs > 0 && tsMs > job.StartedAtMs {
			seconds = float64(tsMs-job.StartedAtMs) / 1000
		}

		s.collector.JobTerminal(string(state), seconds)
	}
}

func (s *Store) discard(ev protocol.Event, reason string) {
	if s.collector != nil {
		s.collector.EventDiscarded(reason)
	}

	ctxlog.Debug(s.logCtx, "discarded event", "reason", reason, "jobId", ev.JobID, "stepId", ev.StepID, "state", ev.State)
}

// Job returns a deep copy of one job's snapshot.
func (s *Store) Job(jobID string) (JobSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return JobSnapshot{}, false
	}

	return job.clone(), true
}

// Jobs returns deep copies of every known job, oldest first.
func (s *Store) Jobs() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobSnapshot, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAtMs != out[j].StartedAtMs {
			return out[i].StartedAtMs < out[j].StartedAtMs
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Select marks a job as the currently displayed one.
func (s *Store) Select(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = jobID
}

// Current returns the currently selected job's snapshot, if any.
func (s *Store) Current() (JobSnapshot, bool) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == "" {
		return JobSnapshot{}, false
	}

	return s.Job(current)
}

// Close stops all pending watchdog timers. Events applied after Close are
// still folded, but no new watchdogs are armed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
		delete(s.activity, id)
	}
}

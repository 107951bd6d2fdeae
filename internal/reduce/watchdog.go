// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package reduce

import (
	"time"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

// armWatchdogLocked starts the terminal-event watchdog for a job. The
// timer is reset on every applied event for the job and stopped when the
// job reaches a terminal state.
func (s *Store) armWatchdogLocked(jobID string) {
	if s.window <= 0 || s.closed {
		return
	}

	if _, ok := s.timers[jobID]; ok {
		return
	}

	s.activity[jobID] = s.clock()
	s.timers[jobID] = time.AfterFunc(s.window, func() {
		s.watchdogFire(jobID)
	})
}

func (s *Store) touchWatchdogLocked(jobID string) {
	if t, ok := s.timers[jobID]; ok {
		s.activity[jobID] = s.clock()
		t.Reset(s.window)
	}
}

func (s *Store) stopWatchdogLocked(jobID string) {
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}

	delete(s.activity, jobID)
}

// watchdogFire force-fails a job whose terminal event never arrived. It
// takes the store lock, so it is serialized with Apply.
func (s *Store) watchdogFire(jobID string) {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok || job.State.TerminalJob() {
		s.stopWatchdogLocked(jobID)
		s.mu.Unlock()

		return
	}

	// An event applied while this callback was waiting on the lock cannot
	// disarm an already-fired timer. If the recorded activity is fresher
	// than the window, the touch has also Reset the timer for a full new
	// window, so this fire is stale and must not fail the job.
	if last, tracked := s.activity[jobID]; tracked && !s.closed {
		if s.clock().Sub(last) < s.window {
			s.mu.Unlock()
			return
		}
	}

	s.stopWatchdogLocked(jobID)

	now := s.clock().UnixMilli()

	errInfo := &protocol.ErrorInfo{
		Code:   protocol.CodeTerminalEventTimeout,
		Detail: "no terminal event received within the watchdog window",
	}

	// Fail the last running step, or the first pending one if nothing
	// was running.
	var victim *StepSnapshot

	for _, st := range job.Steps {
		if st.State == protocol.StateRunning {
			victim = st
		}
	}

	if victim == nil {
		for _, st := range job.Steps {
			if st.State == protocol.StatePending {
				victim = st
				break
			}
		}
	}

	if victim != nil {
		victim.State = protocol.StateFailed
		victim.Error = errInfo
		victim.Message = "no terminal event received"
		victim.UpdatedAtMs = now

		if victim.EndedAtMs == 0 {
			victim.EndedAtMs = now
		}
	}

	s.finishJobLocked(job, protocol.StateFailed, now, errInfo)

	if s.collector != nil {
		s.collector.WatchdogFired()
	}

	s.mu.Unlock()

	ctxlog.Warn(s.logCtx, "watchdog fired, job force-failed", "jobId", jobID)

	if s.onChange != nil {
		s.onChange(jobID)
	}
}

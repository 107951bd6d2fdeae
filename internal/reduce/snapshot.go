// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package reduce

import (
	"maps"
	"slices"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

// StepSnapshot is the reduced view of one pipeline step.
type StepSnapshot struct {
	ID          string              `json:"id"`
	Label       string              `json:"label"`
	State       protocol.State      `json:"state"`
	StartedAtMs int64               `json:"startedAtMs,omitempty"`
	EndedAtMs   int64               `json:"endedAtMs,omitempty"`
	UpdatedAtMs int64               `json:"updatedAtMs,omitempty"`
	Message     string              `json:"message,omitempty"`
	Progress    *protocol.Progress  `json:"progress,omitempty"`
	Error       *protocol.ErrorInfo `json:"error,omitempty"`

	// lastApplied is the encoded form of the last applied event,
	// kept for duplicate suppression.
	lastApplied []byte
}

// JobSnapshot is the reduced view of one installation job.
type JobSnapshot struct {
	ID           string              `json:"id"`
	Target       string              `json:"target,omitempty"`
	Mode         plan.Mode           `json:"mode,omitempty"`
	State        protocol.State      `json:"state"`
	StartedAtMs  int64               `json:"startedAtMs,omitempty"`
	TerminalAtMs int64               `json:"terminalAtMs,omitempty"`
	Meta         map[string]string   `json:"meta,omitempty"`
	Error        *protocol.ErrorInfo `json:"error,omitempty"`
	Steps        []*StepSnapshot     `json:"steps"`

	// Unknown holds events whose step id is outside the control set and
	// the active plan. Diagnostics only, never rendered.
	Unknown []protocol.Event `json:"-"`

	stepsByID map[string]*StepSnapshot
	planKnown bool
}

func newJobSnapshot(jobID string) *JobSnapshot {
	return &JobSnapshot{
		ID:        jobID,
		State:     protocol.StateQueued,
		Meta:      map[string]string{},
		stepsByID: map[string]*StepSnapshot{},
	}
}

// materializePlan lays out the step snapshots for the job's resolved mode.
// It is a no-op once a plan is known.
func (j *JobSnapshot) materializePlan(p plan.Plan) {
	if j.planKnown {
		return
	}

	j.Mode = p.Mode
	j.planKnown = true
	j.Steps = make([]*StepSnapshot, 0, len(p.Steps))

	for _, s := range p.Steps {
		step := &StepSnapshot{
			ID:    s.ID,
			Label: s.Label,
			State: protocol.StatePending,
		}
		j.Steps = append(j.Steps, step)
		j.stepsByID[s.ID] = step
	}
}

// clone returns a deep copy safe to hand out without the store lock.
func (j *JobSnapshot) clone() JobSnapshot {
	out := *j
	out.Meta = maps.Clone(j.Meta)
	out.Unknown = slices.Clone(j.Unknown)
	out.stepsByID = nil

	out.Steps = make([]*StepSnapshot, 0, len(j.Steps))

	for _, s := range j.Steps {
		sc := *s
		sc.lastApplied = nil

		if s.Progress != nil {
			p := *s.Progress
			sc.Progress = &p
		}

		if s.Error != nil {
			e := *s.Error
			sc.Error = &e
		}

		out.Steps = append(out.Steps, &sc)
	}

	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}

	return out
}

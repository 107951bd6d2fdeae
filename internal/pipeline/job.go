// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
)

var (
	// ErrInvalidRequest is returned when an install request fails
	// validation. No job is created and no events are emitted.
	ErrInvalidRequest = errors.New("invalid install request")
	// ErrJobNotFound is returned when a job id is not known to the
	// orchestrator.
	ErrJobNotFound = errors.New("job not found")
	// ErrSkipStep is returned by a step action to mark the step skipped
	// rather than failed.
	ErrSkipStep = errors.New("step intentionally skipped")
)

// InstallRequest asks the orchestrator to run one installation.
type InstallRequest struct {
	TargetName    string            `json:"targetName" validate:"required"`
	SourceLocator string            `json:"sourceLocator,omitempty"`
	InstallMode   string            `json:"installMode" validate:"required"`
	Params        map[string]string `json:"params,omitempty"`
}

// Receipt acknowledges an install request. JobID is assigned
// synchronously so the caller can correlate events that may begin
// arriving before the call returns.
type Receipt struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"jobId,omitempty"`
	Message  string `json:"message"`
}

// Job is the orchestrator's working state for one installation attempt.
type Job struct {
	ID            string
	TargetName    string
	Mode          plan.Mode
	Plan          plan.Plan
	SourceLocator string
	Params        map[string]string
	Meta          map[string]string

	// StagingDir is exclusively owned by this job and removed only by
	// this job's cleanup path.
	StagingDir string
	// ArchivePath points at the driver package once downloaded (or, in
	// local mode, at the source directly).
	ArchivePath string
	// UnpackedDir is where the archive contents are extracted.
	UnpackedDir string

	cancel context.CancelFunc

	// failed records that the run ended in failure or cancellation. Written
	// only by the job's own goroutine before finish runs.
	failed bool
}

// StepContext is handed to step actions.
type StepContext struct {
	Job *Job
	// Progress reports quantitative progress for the running step; safe
	// to call from inside an action, nil-safe.
	Progress func(current, total int64, unit string)
}

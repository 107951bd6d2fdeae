// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package plan defines the install modes and the ordered step plan each
// mode executes. Plans are computed once and immutable.
package plan

import (
	"errors"
	"fmt"
	"slices"
)

// Mode selects the step plan for an installation job.
type Mode string

const (
	// ModePackage installs from a downloadable driver package.
	ModePackage Mode = "package"
	// ModeLocal installs from a driver package already on disk.
	ModeLocal Mode = "local"
	// ModeQueueOnly configures the port and queue against an already
	// registered driver.
	ModeQueueOnly Mode = "queue-only"
)

// ErrUnknownMode is returned when a mode has no registered plan.
var ErrUnknownMode = errors.New("unknown install mode")

// Step ids in declared pipeline order.
const (
	StepDownload       = "download"
	StepVerify         = "verify"
	StepExtract        = "extract"
	StepStageDriver    = "stage-driver"
	StepRegisterDriver = "register-driver"
	StepEnsurePort     = "ensure-port"
	StepEnsureQueue    = "ensure-queue"
	StepFinalVerify    = "final-verify"
)

// Step is one named stage in a plan.
type Step struct {
	ID    string
	Label string
}

// Plan is the ordered list of expected steps for one install mode.
type Plan struct {
	Mode  Mode
	Steps []Step
}

var stepLabels = map[string]string{
	StepDownload:       "Download driver package",
	StepVerify:         "Verify package",
	StepExtract:        "Extract package",
	StepStageDriver:    "Stage driver files",
	StepRegisterDriver: "Register driver",
	StepEnsurePort:     "Configure port",
	StepEnsureQueue:    "Configure print queue",
	StepFinalVerify:    "Verify installation",
}

var planSteps = map[Mode][]string{
	ModePackage: {
		StepDownload, StepVerify, StepExtract, StepStageDriver,
		StepRegisterDriver, StepEnsurePort, StepEnsureQueue, StepFinalVerify,
	},
	ModeLocal: {
		StepVerify, StepExtract, StepStageDriver,
		StepRegisterDriver, StepEnsurePort, StepEnsureQueue, StepFinalVerify,
	},
	ModeQueueOnly: {
		StepEnsurePort, StepEnsureQueue, StepFinalVerify,
	},
}

// Modes returns every mode with a registered plan, in declared order.
func Modes() []Mode {
	return []Mode{ModePackage, ModeLocal, ModeQueueOnly}
}

// ParseMode validates a mode string from an external request.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := planSteps[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}

	return m, nil
}

// ForMode returns the step plan for the given mode.
func ForMode(m Mode) (Plan, error) {
	ids, ok := planSteps[m]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}

	steps := make([]Step, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, Step{ID: id, Label: stepLabels[id]})
	}

	return Plan{Mode: m, Steps: steps}, nil
}

// Contains reports whether stepID belongs to the plan.
func (p Plan) Contains(stepID string) bool {
	return slices.ContainsFunc(p.Steps, func(s Step) bool {
		return s.ID == stepID
	})
}

// Index returns the position of stepID in the plan, or -1.
func (p Plan) Index(stepID string) int {
	return slices.IndexFunc(p.Steps, func(s Step) bool {
		return s.ID == stepID
	})
}

// Label returns the display label for a step id, falling back to the id
// itself for ids without a registered label.
func Label(stepID string) string {
	if l, ok := stepLabels[stepID]; ok {
		return l
	}

	return stepID
}

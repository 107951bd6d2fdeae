// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/backoff"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/config"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/enumerate"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/extract"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/metrics"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Action executes one pipeline step. Returning ErrSkipStep marks the
// step skipped; any other error fails the step and short-circuits the
// remaining steps.
type Action func(ctx context.Context, sc *StepContext) error

// Orchestrator accepts install requests and runs each accepted job's
// pipeline on its own goroutine. Multiple jobs run concurrently, each
// keyed by its job id; steps within one job are strictly sequential.
type Orchestrator struct {
	cfg       config.Install
	fs        afero.Fs
	reporter  protocol.Reporter
	enum      enumerate.Service
	collector *metrics.Collector
	actions   map[string]Action

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFs overrides the filesystem, for tests.
func WithFs(fsys afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fsys }
}

// WithEnumerator overrides the printer enumeration service.
func WithEnumerator(svc enumerate.Service) Option {
	return func(o *Orchestrator) { o.enum = svc }
}

// WithCollector wires metrics collection.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithAction overrides the action for one step id. Used by tests and by
// embedders that supply platform-specific behavior.
func WithAction(stepID string, action Action) Option {
	return func(o *Orchestrator) { o.actions[stepID] = action }
}

// New creates an Orchestrator emitting events to the given reporter.
func New(cfg config.Install, reporter protocol.Reporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		fs:       afero.NewOsFs(),
		reporter: reporter,
		jobs:     map[string]*Job{},
	}

	o.enum = &enumerate.ExecService{
		Path: cfg.Enumerate.Path,
		Args: cfg.Enumerate.Args,
		Policy: backoff.Policy{
			Attempts:    cfg.Backoff.Attempts,
			BaseTimeout: cfg.Backoff.BaseTimeout.Std(),
			Multiplier:  cfg.Backoff.Multiplier,
		},
	}

	o.actions = defaultActions(o)

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Submit validates the request and, if acceptable, starts the job and
// returns its id synchronously. Malformed requests and unknown modes are
// rejected before a job exists; no events are emitted for them.
func (o *Orchestrator) Submit(ctx context.Context, req InstallRequest) (Receipt, error) {
	if err := validate.Struct(req); err != nil {
		return Receipt{Message: "malformed install request"}, errors.Join(ErrInvalidRequest, err)
	}

	mode, err := plan.ParseMode(req.InstallMode)
	if err != nil {
		return Receipt{Message: fmt.Sprintf("unknown install mode %q", req.InstallMode)},
			errors.Join(ErrInvalidRequest, err)
	}

	if mode != plan.ModeQueueOnly && req.SourceLocator == "" {
		return Receipt{Message: "sourceLocator is required for this install mode"},
			fmt.Errorf("%w: missing sourceLocator", ErrInvalidRequest)
	}

	p, err := plan.ForMode(mode)
	if err != nil {
		return Receipt{Message: err.Error()}, errors.Join(ErrInvalidRequest, err)
	}

	job := &Job{
		ID:         uuid.NewString(),
		TargetName: req.TargetName,
		Mode:       mode,
		Plan:       p,
		Params:     req.Params,
		Meta:       o.buildMeta(req, mode),
	}

	stagingRoot := o.cfg.StagingRoot
	if stagingRoot == "" {
		stagingRoot = os.TempDir()
	}

	job.StagingDir = filepath.Join(stagingRoot, "eprinty-"+job.ID)

	job.SourceLocator = req.SourceLocator
	if mode == plan.ModeLocal {
		job.ArchivePath = req.SourceLocator
	}

	// The job must outlive the submitting request's context.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job.cancel = cancel

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	if o.collector != nil {
		o.collector.JobStarted()
	}

	o.wg.Add(1)

	go o.run(jobCtx, job)

	return Receipt{Accepted: true, JobID: job.ID, Message: "install accepted"}, nil
}

// Cancel requests cooperative cancellation of a running job. The
// currently running step fails with a cancellation reason and no further
// steps execute.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job.cancel()

	return nil
}

// Wait blocks until every submitted job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels all running jobs and waits for them to wind down.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, job := range o.jobs {
		job.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) buildMeta(req InstallRequest, mode plan.Mode) map[string]string {
	meta := map[string]string{
		"mode":       string(mode),
		"targetName": req.TargetName,
	}

	// The driver key identifies the resolved driver for the target; an
	// explicit param wins over the derived default.
	if key, ok := req.Params["driverKey"]; ok && key != "" {
		meta["driverKey"] = key
	} else {
		meta["driverKey"] = req.TargetName
	}

	if o.cfg.AlwaysRefreshDriver {
		meta["driverPolicy"] = "always-refresh"
	} else {
		meta["driverPolicy"] = "reuse-if-present"
	}

	return meta
}

// run executes the job's step plan sequentially, mirroring every state
// change onto the event stream, and finishes with a terminal sentinel.
func (o *Orchestrator) run(ctx context.Context, job *Job) {
	defer o.wg.Done()
	defer o.finish(ctx, job)

	logger := ctxlog.Logger(ctx).With("jobId", job.ID, "target", job.TargetName, "mode", job.Mode)
	ctx = ctxlog.New(ctx, logger)

	logger.Info("job started")

	o.emit(protocol.Event{
		JobID:  job.ID,
		StepID: protocol.StepJobInit,
		State:  protocol.StateRunning,
		Meta:   job.Meta,
	})

	for _, step := range job.Plan.Steps {
		if ctx.Err() != nil {
			o.failCanceled(job, step)
			return
		}

		o.emitStep(job, step.ID, protocol.StateRunning, "", nil)

		err := o.runStep(ctx, job, step)

		switch {
		case err == nil:
			o.emitStep(job, step.ID, protocol.StateSuccess, "", nil)

		case errors.Is(err, ErrSkipStep):
			logger.Debug("step skipped", "step", step.ID, "reason", err)
			o.emitStep(job, step.ID, protocol.StateSkipped, skipReason(err), nil)

		case ctx.Err() != nil:
			o.failCanceled(job, step)
			return

		default:
			logger.Warn("step failed", "step", step.ID, "error", err)
			job.failed = true
			o.emitStep(job, step.ID, protocol.StateFailed, err.Error(), errorInfo(err))
			o.emit(protocol.Event{
				JobID:  job.ID,
				StepID: protocol.StepJobFailed,
				State:  protocol.StateFailed,
				Error:  errorInfo(err),
			})

			return
		}
	}

	logger.Info("job succeeded")

	o.emit(protocol.Event{
		JobID:  job.ID,
		StepID: protocol.StepJobDone,
		State:  protocol.StateSuccess,
	})
}

func (o *Orchestrator) runStep(ctx context.Context, job *Job, step plan.Step) error {
	action, ok := o.actions[step.ID]
	if !ok {
		return fmt.Errorf("no action registered for step %q", step.ID)
	}

	sc := &StepContext{
		Job: job,
		Progress: func(current, total int64, unit string) {
			o.emit(protocol.Event{
				JobID:  job.ID,
				StepID: step.ID,
				State:  protocol.StateRunning,
				Progress: &protocol.Progress{
					Current: current,
					Total:   total,
					Percent: percent(current, total),
					Unit:    unit,
				},
			})
		},
	}

	return action(ctx, sc)
}

// failCanceled fails the interrupted step with a cancellation reason and
// emits the canceled terminal sentinel. No further steps execute.
func (o *Orchestrator) failCanceled(job *Job, step plan.Step) {
	job.failed = true

	info := &protocol.ErrorInfo{
		Code:   protocol.CodeCanceled,
		Detail: "job canceled",
	}

	o.emitStep(job, step.ID, protocol.StateFailed, "canceled", info)
	o.emit(protocol.Event{
		JobID:  job.ID,
		StepID: protocol.StepJobFailed,
		State:  protocol.StateCanceled,
		Error:  info,
	})
}

// finish releases the job's registration and removes its staging
// directory. The staging directory belongs to this job alone; the
// diagnostics override (config or EPRINTY_KEEP_STAGING) preserves it
// only when the job failed; successful jobs always clean up.
func (o *Orchestrator) finish(ctx context.Context, job *Job) {
	o.mu.Lock()
	delete(o.jobs, job.ID)
	o.mu.Unlock()

	job.cancel()

	if job.StagingDir == "" {
		return
	}

	if job.failed && (o.cfg.KeepStagingOnFailure || os.Getenv(extract.KeepStagingEnv) != "") {
		ctxlog.Debug(ctx, "keeping staging directory", "dir", job.StagingDir)
		return
	}

	if err := o.fs.RemoveAll(job.StagingDir); err != nil {
		ctxlog.Warn(ctx, "failed to remove staging directory", "dir", job.StagingDir, "error", err)
	}
}

func (o *Orchestrator) emit(ev protocol.Event) {
	if ev.TsMs == 0 {
		ev.TsMs = time.Now().UnixMilli()
	}

	o.reporter.Report(ev)
}

func (o *Orchestrator) emitStep(job *Job, stepID string, state protocol.State, message string, info *protocol.ErrorInfo) {
	o.emit(protocol.Event{
		JobID:   job.ID,
		StepID:  stepID,
		State:   state,
		Message: message,
		Error:   info,
	})
}

func percent(current, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return float64(current) / float64(total) * 100
}

func skipReason(err error) string {
	if errors.Is(err, ErrSkipStep) {
		return err.Error()
	}

	return "skipped"
}

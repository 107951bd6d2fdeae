// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/enumerate"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/extract"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/fetch"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/toolrun"
)

// ToolError wraps a failed external tool invocation, preserving the
// captured output so failure events can carry it.
type ToolError struct {
	Step   string
	Result *toolrun.Result
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Result.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Result.Err
}

// defaultActions binds every step id to its built-in behavior. Embedders
// replace individual entries through WithAction.
func defaultActions(o *Orchestrator) map[string]Action {
	return map[string]Action{
		plan.StepDownload:       o.actionDownload,
		plan.StepVerify:         o.actionVerify,
		plan.StepExtract:        o.actionExtract,
		plan.StepStageDriver:    o.actionStageDriver,
		plan.StepRegisterDriver: o.toolAction(plan.StepRegisterDriver),
		plan.StepEnsurePort:     o.toolAction(plan.StepEnsurePort),
		plan.StepEnsureQueue:    o.toolAction(plan.StepEnsureQueue),
		plan.StepFinalVerify:    o.actionFinalVerify,
	}
}

func (o *Orchestrator) actionDownload(ctx context.Context, sc *StepContext) error {
	dstDir := filepath.Join(sc.Job.StagingDir, "pkg")
	if err := o.fs.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating package directory %s: %w", dstDir, err)
	}

	path, err := fetch.Download(ctx, sc.Job.SourceLocator, dstDir)
	if err != nil {
		return err
	}

	sc.Job.ArchivePath = path

	ctxlog.Debug(ctx, "package downloaded", "path", path)

	return nil
}

// actionVerify sanity-checks the package before extraction: it must
// exist, be non-empty and start with a zip signature.
func (o *Orchestrator) actionVerify(ctx context.Context, sc *StepContext) error {
	info, err := o.fs.Stat(sc.Job.ArchivePath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", extract.ErrOpenArchive, sc.Job.ArchivePath, err)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", extract.ErrCorruptArchive, sc.Job.ArchivePath)
	}

	f, err := o.fs.Open(sc.Job.ArchivePath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", extract.ErrOpenArchive, sc.Job.ArchivePath, err)
	}
	defer f.Close()

	sig := make([]byte, 2)
	if _, err := io.ReadFull(f, sig); err != nil || string(sig) != "PK" {
		return fmt.Errorf("%w: %s does not look like a zip archive", extract.ErrCorruptArchive, sc.Job.ArchivePath)
	}

	return nil
}

func (o *Orchestrator) actionExtract(ctx context.Context, sc *StepContext) error {
	destDir := filepath.Join(sc.Job.StagingDir, "unpacked")

	report, err := extract.Extract(ctx, sc.Job.ArchivePath, destDir, &extract.Options{
		Fs:                   o.fs,
		KeepStagingOnFailure: o.cfg.KeepStagingOnFailure,
		OnProgress: func(done, total int) {
			sc.Progress(int64(done), int64(total), "entries")
		},
	})
	if err != nil {
		return err
	}

	sc.Job.UnpackedDir = destDir

	ctxlog.Debug(ctx, "archive extracted",
		"files", report.FilesExtracted, "bytes", report.BytesWritten, "elapsed", report.Elapsed)

	return nil
}

// actionStageDriver copies the unpacked payload into the driver store
// under the job's driver key. Under the reuse-if-present policy an
// already staged driver key skips the copy.
func (o *Orchestrator) actionStageDriver(ctx context.Context, sc *StepContext) error {
	store := o.cfg.DriverStore
	if store == "" {
		root := o.cfg.StagingRoot
		if root == "" {
			root = os.TempDir()
		}

		store = filepath.Join(root, "eprinty-drivers")
	}

	target := filepath.Join(store, sc.Job.Meta["driverKey"])

	if sc.Job.Meta["driverPolicy"] == "reuse-if-present" {
		if staged, err := afero.DirExists(o.fs, target); err == nil && staged {
			if entries, err := afero.ReadDir(o.fs, target); err == nil && len(entries) > 0 {
				return fmt.Errorf("%w: driver %q already staged", ErrSkipStep, sc.Job.Meta["driverKey"])
			}
		}
	}

	if err := o.fs.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating driver store entry %s: %w", target, err)
	}

	copied, err := o.copyTree(ctx, sc.Job.UnpackedDir, target, sc.Progress)
	if err != nil {
		return fmt.Errorf("staging driver into %s: %w", target, err)
	}

	sc.Job.Meta["driverDir"] = target

	ctxlog.Debug(ctx, "driver staged", "dir", target, "files", copied)

	return nil
}

// copyTree copies every regular file under src into dst, preserving the
// relative layout. Cancellation is checked between files.
func (o *Orchestrator) copyTree(ctx context.Context, src, dst string, progress func(current, total int64, unit string)) (int, error) {
	var paths []string

	err := afero.Walk(o.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			paths = append(paths, path)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return i, err
		}

		if err := o.copyFile(path, filepath.Join(dst, rel)); err != nil {
			return i, err
		}

		if progress != nil {
			progress(int64(i+1), int64(len(paths)), "files")
		}
	}

	return len(paths), nil
}

func (o *Orchestrator) copyFile(src, dst string) error {
	if err := o.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := o.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := o.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// toolAction invokes the external tool configured for stepID under the
// step timeout. An unconfigured tool skips the step rather than failing
// the job, so partial deployments degrade gracefully.
func (o *Orchestrator) toolAction(stepID string) Action {
	return func(ctx context.Context, sc *StepContext) error {
		tool, ok := o.cfg.Tools[stepID]
		if !ok || tool.Path == "" {
			return fmt.Errorf("%w: no tool configured for %s", ErrSkipStep, stepID)
		}

		cmd := &toolrun.Command{
			Path:    tool.Path,
			Args:    expandArgs(tool.Args, sc.Job),
			Timeout: o.cfg.StepTimeout.Std(),
			OnOutputLine: func(line string) {
				o.emitStep(sc.Job, stepID, protocol.StateRunning, line, nil)
			},
		}

		res := cmd.Run(ctx)

		ctxlog.Debug(ctx, "tool finished",
			"step", stepID, "path", tool.Path, "exitCode", res.ExitCode, "elapsed", res.Elapsed)

		if res.Err != nil {
			return &ToolError{Step: stepID, Result: res}
		}

		return nil
	}
}

// expandArgs substitutes job placeholders in configured tool arguments.
func expandArgs(args []string, job *Job) []string {
	replacer := strings.NewReplacer(
		"{target}", job.TargetName,
		"{driverKey}", job.Meta["driverKey"],
		"{driverDir}", job.Meta["driverDir"],
		"{port}", portName(job),
	)

	out := make([]string, len(args))
	for i, a := range args {
		out[i] = replacer.Replace(a)
	}

	return out
}

func portName(job *Job) string {
	if p, ok := job.Params["portName"]; ok && p != "" {
		return p
	}

	return job.TargetName
}

// actionFinalVerify confirms the target queue is visible to the OS
// enumeration utility once all preceding steps have run.
func (o *Orchestrator) actionFinalVerify(ctx context.Context, sc *StepContext) error {
	found, err := enumerate.Exists(ctx, o.enum, sc.Job.TargetName)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("queue %q not present after installation", sc.Job.TargetName)
	}

	return nil
}

// errorInfo classifies a step failure into a stable error code and
// attaches captured tool output where available.
func errorInfo(err error) *protocol.ErrorInfo {
	info := &protocol.ErrorInfo{
		Code:   protocol.CodeIO,
		Detail: err.Error(),
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		info.Stdout = string(toolErr.Result.Stdout)
		info.Stderr = string(toolErr.Result.Stderr)
	}

	switch {
	case errors.Is(err, toolrun.ErrTimeout):
		info.Code = protocol.CodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, extract.ErrCanceled):
		info.Code = protocol.CodeCanceled
	case errors.Is(err, extract.ErrOpenArchive),
		errors.Is(err, extract.ErrCorruptArchive),
		errors.Is(err, extract.ErrPathTraversal):
		info.Code = protocol.CodeArchive
	case errors.Is(err, toolrun.ErrToolFailed), errors.Is(err, toolrun.ErrCouldNotStart):
		info.Code = protocol.CodeToolFailed
	}

	return info
}

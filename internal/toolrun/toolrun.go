// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package toolrun executes external OS tools on behalf of pipeline steps.
// Every invocation is bounded by a timeout and the underlying process is
// killed on expiry, so a hung tool can never block a job indefinitely.
// Captured stdout/stderr are size-bounded.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/teereader"
)

const maxCaptureSize = 8 * 1024 * 1024 // 8MB per stream

// waitDelay bounds how long Run waits for inherited output pipes after
// the process is killed or exits. Without it, an orphaned descendant
// holding stdout keeps Run blocked until that descendant exits.
const waitDelay = time.Second

var (
	// ErrTimeout is returned when the tool exceeds its deadline and is killed.
	// It is distinguishable from a plain non-zero exit.
	ErrTimeout = errors.New("tool timed out and was killed")
	// ErrCouldNotStart is returned when the process could not be started.
	ErrCouldNotStart = errors.New("could not start tool")
	// ErrToolFailed is returned when the tool exits non-zero.
	ErrToolFailed = errors.New("tool exited with failure")
	// ErrOutputTruncated is recorded when a stream exceeded the capture limit.
	ErrOutputTruncated = fmt.Errorf("tool output exceeds max capture size of %d bytes", maxCaptureSize)
)

// Command describes one external tool invocation.
type Command struct {
	Path             string            // Executable path.
	Args             []string          // Arguments, excluding the executable name.
	Dir              string            // Working directory; empty means inherited.
	Env              map[string]string // Extra environment variables.
	Timeout          time.Duration     // Per-invocation deadline; 0 means no extra deadline.
	SuccessExitCodes []int             // Exit codes treated as success; defaults to {0}.

	// OnOutputLine, if set, receives each completed non-empty stdout
	// line while the tool runs. Must not block.
	OnOutputLine func(line string)
}

// Result is the outcome of one invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	LastLine string // Last complete stdout line, for progress display.
	Elapsed  time.Duration
	TimedOut bool
	Err      error
}

// boundedBuffer keeps at most max bytes and flags overflow instead of
// growing without bound.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}

	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true

		return len(p), nil
	}

	return b.buf.Write(p)
}

// Run executes the command. The context bounds the whole invocation; if
// Timeout is set, a tighter deadline is applied on top. On expiry the
// process is killed and the result carries ErrTimeout.
func (c *Command) Run(ctx context.Context) *Result {
	logger := ctxlog.Logger(ctx).With("tool", c.Path)
	logger.Debug("tool invocation", "args", c.Args, "dir", c.Dir, "timeout", c.Timeout)

	success := c.SuccessExitCodes
	if success == nil {
		success = []int{0}
	}

	runCtx := ctx

	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	stdout := &boundedBuffer{max: maxCaptureSize}
	stderr := &boundedBuffer{max: maxCaptureSize}
	lastLine := teereader.NewLastLineWriter(stdout, c.OnOutputLine)

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = lastLine
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cmd.Env = env

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Stdout:   stdout.buf.Bytes(),
		Stderr:   stderr.buf.Bytes(),
		LastLine: lastLine.LastLine(),
		Elapsed:  time.Since(start),
	}

	if stdout.truncated || stderr.truncated {
		res.Err = ErrOutputTruncated
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		// The per-invocation deadline fired, not the caller's context.
		res.ExitCode = -1
		res.TimedOut = true
		res.Err = errors.Join(res.Err, fmt.Errorf("%w: after %s", ErrTimeout, c.Timeout))

		logger.Warn("tool killed after timeout", "timeout", c.Timeout)

	case runCtx.Err() != nil:
		res.ExitCode = -1
		res.Err = errors.Join(res.Err, runCtx.Err())

	case errors.Is(err, exec.ErrWaitDelay):
		// The tool itself exited within bounds but an orphaned child kept
		// an output pipe open past the wait delay. The tool's own exit
		// status is authoritative; the capture is merely incomplete.
		res.ExitCode = cmd.ProcessState.ExitCode()
		if !slices.Contains(success, res.ExitCode) {
			res.Err = errors.Join(res.Err, fmt.Errorf("%w: exit code %d", ErrToolFailed, res.ExitCode))
		}

	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			res.Err = errors.Join(res.Err, ErrCouldNotStart, err)

			return res
		}

		res.ExitCode = exitErr.ExitCode()
		if !slices.Contains(success, res.ExitCode) {
			res.Err = errors.Join(res.Err, fmt.Errorf("%w: exit code %d", ErrToolFailed, res.ExitCode))
		}

	default:
		res.ExitCode = 0
		if !slices.Contains(success, 0) {
			res.Err = errors.Join(res.Err, fmt.Errorf("%w: exit code 0 not in success set", ErrToolFailed))
		}
	}

	logger.Debug("tool finished", "exitCode", res.ExitCode, "elapsed", res.Elapsed, "timedOut", res.TimedOut)

	return res
}

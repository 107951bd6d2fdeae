// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/config"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/enumerate"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingReporter struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recordingReporter) Report(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) Close() {}

func (r *recordingReporter) snapshot() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Event, len(r.events))
	copy(out, r.events)

	return out
}

// byStep returns the last event recorded for stepID, or nil.
func (r *recordingReporter) byStep(stepID string) *protocol.Event {
	evs := r.snapshot()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].StepID == stepID {
			return &evs[i]
		}
	}

	return nil
}

type staticEnum struct {
	printers []enumerate.Printer
	err      error
}

func (s *staticEnum) Printers(context.Context) ([]enumerate.Printer, error) {
	return s.printers, s.err
}

func writeZip(t *testing.T, fsys afero.Fs, path string, files map[string]string) {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)

		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	require.NoError(t, afero.WriteFile(fsys, path, buf.Bytes(), 0o644))
}

func okAction(context.Context, *StepContext) error { return nil }

func testConfig() config.Install {
	return config.Install{
		StagingRoot: "/staging",
		StepTimeout: config.Duration(5 * time.Second),
	}
}

func TestOrchestrator_PackageInstallSucceeds(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeZip(t, fsys, "/src/driver.zip", map[string]string{
		"driver.inf":  "inf contents",
		"driver.cat":  "cat contents",
		"amd64/a.dll": "dll contents",
	})

	rep := &recordingReporter{}
	o := New(testConfig(), rep,
		WithFs(fsys),
		WithEnumerator(&staticEnum{printers: []enumerate.Printer{{Name: "Office-Laser"}}}),
		WithAction(plan.StepDownload, func(_ context.Context, sc *StepContext) error {
			sc.Job.ArchivePath = "/src/driver.zip"
			return nil
		}),
		WithAction(plan.StepRegisterDriver, okAction),
		WithAction(plan.StepEnsurePort, okAction),
		WithAction(plan.StepEnsureQueue, okAction),
	)
	defer o.Close()

	receipt, err := o.Submit(context.Background(), InstallRequest{
		TargetName:    "Office-Laser",
		SourceLocator: "https://drivers.example.com/driver.zip",
		InstallMode:   "package",
	})
	require.NoError(t, err)
	assert.True(t, receipt.Accepted)
	assert.NotEmpty(t, receipt.JobID)

	o.Wait()

	evs := rep.snapshot()
	require.NotEmpty(t, evs)

	assert.Equal(t, protocol.StepJobInit, evs[0].StepID)
	assert.Equal(t, "package", evs[0].Meta["mode"])
	assert.Equal(t, protocol.StepJobDone, evs[len(evs)-1].StepID)
	assert.Equal(t, protocol.StateSuccess, evs[len(evs)-1].State)

	// Every step reaches success, running strictly before success, and
	// successes arrive in plan order.
	p, err := plan.ForMode(plan.ModePackage)
	require.NoError(t, err)

	lastSuccess := -1
	for _, step := range p.Steps {
		running, success := -1, -1
		for i, ev := range evs {
			if ev.StepID != step.ID {
				continue
			}
			switch ev.State {
			case protocol.StateRunning:
				if running == -1 {
					running = i
				}
			case protocol.StateSuccess:
				success = i
			default:
				t.Fatalf("unexpected state %s for step %s", ev.State, step.ID)
			}
		}

		require.GreaterOrEqual(t, running, 0, "step %s never ran", step.ID)
		require.Greater(t, success, running, "step %s never succeeded", step.ID)
		assert.Greater(t, success, lastSuccess, "step %s out of order", step.ID)
		lastSuccess = success
	}

	// Extraction reported quantitative progress.
	var sawProgress bool
	for _, ev := range evs {
		if ev.StepID == plan.StepExtract && ev.Progress != nil {
			sawProgress = true
			assert.Equal(t, "entries", ev.Progress.Unit)
		}
	}
	assert.True(t, sawProgress)
}

func TestOrchestrator_HungToolTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.StepTimeout = config.Duration(100 * time.Millisecond)
	cfg.Tools = map[string]config.ToolSpec{
		plan.StepEnsurePort: {Path: "/bin/sleep", Args: []string{"30"}},
	}

	rep := &recordingReporter{}
	o := New(cfg, rep,
		WithFs(afero.NewMemMapFs()),
		WithEnumerator(&staticEnum{}),
	)
	defer o.Close()

	start := time.Now()

	_, err := o.Submit(context.Background(), InstallRequest{
		TargetName:  "Office-Laser",
		InstallMode: "queue-only",
	})
	require.NoError(t, err)

	o.Wait()

	require.Less(t, time.Since(start), 5*time.Second, "hung tool was not killed")

	failed := rep.byStep(plan.StepEnsurePort)
	require.NotNil(t, failed)
	assert.Equal(t, protocol.StateFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, protocol.CodeTimeout, failed.Error.Code)

	terminal := rep.byStep(protocol.StepJobFailed)
	require.NotNil(t, terminal)
	assert.Equal(t, protocol.StateFailed, terminal.State)

	// Remaining steps never started.
	assert.Nil(t, rep.byStep(plan.StepEnsureQueue))
	assert.Nil(t, rep.byStep(plan.StepFinalVerify))
}

func TestOrchestrator_FailureShortCircuits(t *testing.T) {
	rep := &recordingReporter{}
	o := New(testConfig(), rep,
		WithFs(afero.NewMemMapFs()),
		WithEnumerator(&staticEnum{}),
		WithAction(plan.StepDownload, func(_ context.Context, sc *StepContext) error {
			sc.Job.ArchivePath = "/does/not/exist.zip"
			return nil
		}),
	)
	defer o.Close()

	_, err := o.Submit(context.Background(), InstallRequest{
		TargetName:    "Office-Laser",
		SourceLocator: "https://drivers.example.com/driver.zip",
		InstallMode:   "package",
	})
	require.NoError(t, err)

	o.Wait()

	failed := rep.byStep(plan.StepVerify)
	require.NotNil(t, failed)
	assert.Equal(t, protocol.StateFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, protocol.CodeArchive, failed.Error.Code)

	assert.Nil(t, rep.byStep(plan.StepExtract))
	assert.Nil(t, rep.byStep(protocol.StepJobDone))
	require.NotNil(t, rep.byStep(protocol.StepJobFailed))
}

func TestOrchestrator_CancelMidPipeline(t *testing.T) {
	started := make(chan struct{})

	rep := &recordingReporter{}
	o := New(testConfig(), rep,
		WithFs(afero.NewMemMapFs()),
		WithEnumerator(&staticEnum{}),
		WithAction(plan.StepEnsurePort, func(ctx context.Context, _ *StepContext) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	defer o.Close()

	receipt, err := o.Submit(context.Background(), InstallRequest{
		TargetName:  "Office-Laser",
		InstallMode: "queue-only",
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, o.Cancel(receipt.JobID))

	o.Wait()

	failed := rep.byStep(plan.StepEnsurePort)
	require.NotNil(t, failed)
	assert.Equal(t, protocol.StateFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, protocol.CodeCanceled, failed.Error.Code)

	terminal := rep.byStep(protocol.StepJobFailed)
	require.NotNil(t, terminal)
	assert.Equal(t, protocol.StateCanceled, terminal.State)

	assert.Nil(t, rep.byStep(plan.StepEnsureQueue))
}

func TestOrchestrator_CancelUnknownJob(t *testing.T) {
	o := New(testConfig(), &protocol.NullReporter{}, WithFs(afero.NewMemMapFs()))
	defer o.Close()

	err := o.Cancel("no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestOrchestrator_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  InstallRequest
	}{
		{
			name: "missing target name",
			req:  InstallRequest{InstallMode: "package", SourceLocator: "x"},
		},
		{
			name: "unknown mode",
			req:  InstallRequest{TargetName: "Office-Laser", InstallMode: "telepathy"},
		},
		{
			name: "package mode without source",
			req:  InstallRequest{TargetName: "Office-Laser", InstallMode: "package"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep := &recordingReporter{}
			o := New(testConfig(), rep, WithFs(afero.NewMemMapFs()))
			defer o.Close()

			receipt, err := o.Submit(context.Background(), tc.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.False(t, receipt.Accepted)

			o.Wait()
			assert.Empty(t, rep.snapshot(), "rejected request must not emit events")
		})
	}
}

func TestOrchestrator_SkipsUnconfiguredTools(t *testing.T) {
	rep := &recordingReporter{}
	o := New(testConfig(), rep,
		WithFs(afero.NewMemMapFs()),
		WithEnumerator(&staticEnum{printers: []enumerate.Printer{{Name: "Office-Laser"}}}),
	)
	defer o.Close()

	_, err := o.Submit(context.Background(), InstallRequest{
		TargetName:  "Office-Laser",
		InstallMode: "queue-only",
	})
	require.NoError(t, err)

	o.Wait()

	for _, stepID := range []string{plan.StepEnsurePort, plan.StepEnsureQueue} {
		ev := rep.byStep(stepID)
		require.NotNil(t, ev)
		assert.Equal(t, protocol.StateSkipped, ev.State, "step %s", stepID)
	}

	done := rep.byStep(protocol.StepJobDone)
	require.NotNil(t, done)
	assert.Equal(t, protocol.StateSuccess, done.State)
}

func TestOrchestrator_ReuseIfPresentSkipsStaging(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeZip(t, fsys, "/src/driver.zip", map[string]string{"driver.inf": "x"})
	require.NoError(t, afero.WriteFile(fsys, "/drivers/Office-Laser/driver.inf", []byte("x"), 0o644))

	cfg := testConfig()
	cfg.DriverStore = "/drivers"

	rep := &recordingReporter{}
	o := New(cfg, rep,
		WithFs(fsys),
		WithEnumerator(&staticEnum{printers: []enumerate.Printer{{Name: "Office-Laser"}}}),
	)
	defer o.Close()

	_, err := o.Submit(context.Background(), InstallRequest{
		TargetName:    "Office-Laser",
		SourceLocator: "/src/driver.zip",
		InstallMode:   "local",
	})
	require.NoError(t, err)

	o.Wait()

	staged := rep.byStep(plan.StepStageDriver)
	require.NotNil(t, staged)
	assert.Equal(t, protocol.StateSkipped, staged.State)
}

func TestOrchestrator_JobInitCarriesMeta(t *testing.T) {
	cfg := testConfig()
	cfg.AlwaysRefreshDriver = true

	rep := &recordingReporter{}
	o := New(cfg, rep,
		WithFs(afero.NewMemMapFs()),
		WithEnumerator(&staticEnum{printers: []enumerate.Printer{{Name: "Office-Laser"}}}),
	)
	defer o.Close()

	_, err := o.Submit(context.Background(), InstallRequest{
		TargetName:  "Office-Laser",
		InstallMode: "queue-only",
		Params:      map[string]string{"driverKey": "laser-v2"},
	})
	require.NoError(t, err)

	o.Wait()

	init := rep.byStep(protocol.StepJobInit)
	require.NotNil(t, init)
	assert.Equal(t, "queue-only", init.Meta["mode"])
	assert.Equal(t, "Office-Laser", init.Meta["targetName"])
	assert.Equal(t, "laser-v2", init.Meta["driverKey"])
	assert.Equal(t, "always-refresh", init.Meta["driverPolicy"])
}

func TestOrchestrator_StagingRemovedOnSuccessDespiteKeepFlag(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeZip(t, fsys, "/src/driver.zip", map[string]string{"driver.inf": "inf contents"})

	cfg := testConfig()
	cfg.KeepStagingOnFailure = true

	rep := &recordingReporter{}
	o := New(cfg, rep,
		WithFs(fsys),
		WithEnumerator(&staticEnum{printers: []enumerate.Printer{{Name: "Office-Laser"}}}),
		WithAction(plan.StepRegisterDriver, okAction),
		WithAction(plan.StepEnsurePort, okAction),
		WithAction(plan.StepEnsureQueue, okAction),
	)
	defer o.Close()

	receipt, err := o.Submit(context.Background(), InstallRequest{
		TargetName:    "Office-Laser",
		SourceLocator: "/src/driver.zip",
		InstallMode:   "local",
	})
	require.NoError(t, err)

	o.Wait()

	done := rep.byStep(protocol.StepJobDone)
	require.NotNil(t, done)
	require.Equal(t, protocol.StateSuccess, done.State)

	// The diagnostics override applies to failed jobs only.
	stagingDir := filepath.Join("/staging", "eprinty-"+receipt.JobID)
	exists, err := afero.DirExists(fsys, stagingDir)
	require.NoError(t, err)
	assert.False(t, exists, "staging directory survived a successful job")
}

func TestOrchestrator_StagingKeptOnFailureWithKeepFlag(t *testing.T) {
	fsys := afero.NewMemMapFs()

	cfg := testConfig()
	cfg.KeepStagingOnFailure = true

	rep := &recordingReporter{}
	o := New(cfg, rep,
		WithFs(fsys),
		WithEnumerator(&staticEnum{}),
		WithAction(plan.StepDownload, func(_ context.Context, sc *StepContext) error {
			if err := fsys.MkdirAll(sc.Job.StagingDir, 0o755); err != nil {
				return err
			}

			return errors.New("mirror unreachable")
		}),
	)
	defer o.Close()

	receipt, err := o.Submit(context.Background(), InstallRequest{
		TargetName:    "Office-Laser",
		SourceLocator: "https://drivers.example.com/driver.zip",
		InstallMode:   "package",
	})
	require.NoError(t, err)

	o.Wait()

	failed := rep.byStep(protocol.StepJobFailed)
	require.NotNil(t, failed)

	stagingDir := filepath.Join("/staging", "eprinty-"+receipt.JobID)
	exists, err := afero.DirExists(fsys, stagingDir)
	require.NoError(t, err)
	assert.True(t, exists, "staging directory removed despite the keep override")
}

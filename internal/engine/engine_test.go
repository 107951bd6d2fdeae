// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/config"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/enumerate"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/pipeline"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticEnum struct{}

func (staticEnum) Printers(context.Context) ([]enumerate.Printer, error) {
	return []enumerate.Printer{{Name: "Office-Laser"}}, nil
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := New(ctx, config.Default(),
		pipeline.WithFs(afero.NewMemMapFs()),
		pipeline.WithEnumerator(staticEnum{}),
	)
	defer eng.Close()

	receipt, err := eng.Orchestrator.Submit(ctx, pipeline.InstallRequest{
		TargetName:  "Office-Laser",
		InstallMode: "queue-only",
	})
	require.NoError(t, err)

	// Events flow asynchronously from the orchestrator through the
	// reporter into the store.
	require.Eventually(t, func() bool {
		job, ok := eng.Store.Job(receipt.JobID)
		return ok && job.State == protocol.StateSuccess
	}, 5*time.Second, 10*time.Millisecond)

	job, ok := eng.Store.Job(receipt.JobID)
	require.True(t, ok)
	assert.Equal(t, "Office-Laser", job.Target)
	require.Len(t, job.Steps, 3)
}

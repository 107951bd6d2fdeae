// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package enumerate

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/backoff"
)

func TestParsePrinters(t *testing.T) {
	out := []byte("Office\tHP LaserJet\tUSB001\n\nLobby\tGeneric PCL\n\nBare\n")

	printers := parsePrinters(out)
	require.Len(t, printers, 3)

	assert.Equal(t, Printer{Name: "Office", Driver: "HP LaserJet", Port: "USB001"}, printers[0])
	assert.Equal(t, Printer{Name: "Lobby", Driver: "Generic PCL"}, printers[1])
	assert.Equal(t, Printer{Name: "Bare"}, printers[2])
}

func TestExecService_Printers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test uses unix shell utilities")
	}

	svc := &ExecService{
		Path:   "/bin/sh",
		Args:   []string{"-c", `printf 'Office\tHP LaserJet\tUSB001\n'`},
		Policy: backoff.Policy{Attempts: 1, BaseTimeout: 5 * time.Second},
	}

	printers, err := svc.Printers(context.Background())
	require.NoError(t, err)
	require.Len(t, printers, 1)
	assert.Equal(t, "Office", printers[0].Name)
}

func TestExecService_RetriesThenFails(t *testing.T) {
	svc := &ExecService{
		Path:   "/nonexistent/lister",
		Policy: backoff.Policy{Attempts: 2, BaseTimeout: time.Second},
	}

	_, err := svc.Printers(context.Background())
	assert.ErrorIs(t, err, ErrEnumerate)
	assert.ErrorIs(t, err, backoff.ErrAttemptsExhausted)
}

type fakeService struct {
	printers []Printer
	err      error
}

func (f *fakeService) Printers(_ context.Context) ([]Printer, error) {
	return f.printers, f.err
}

func TestExists(t *testing.T) {
	svc := &fakeService{printers: []Printer{{Name: "Office"}, {Name: "Lobby"}}}

	ok, err := Exists(context.Background(), svc, "Lobby")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(context.Background(), svc, "Basement")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists_Error(t *testing.T) {
	svc := &fakeService{err: errors.New("spooler offline")}

	_, err := Exists(context.Background(), svc, "Office")
	assert.Error(t, err)
}

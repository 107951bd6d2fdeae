// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package enumerate queries the operating system for the installed
// printer queues. It is consumed by the pipeline's final verification
// step; the OS utility itself is treated as an opaque external tool.
package enumerate

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/backoff"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/toolrun"
)

// ErrEnumerate is returned when the printer list cannot be obtained.
var ErrEnumerate = errors.New("failed to enumerate printers")

// Printer is one installed queue as reported by the OS.
type Printer struct {
	Name   string
	Driver string
	Port   string
}

// Service lists the printers known to the OS.
type Service interface {
	// Printers returns the currently installed queues.
	Printers(ctx context.Context) ([]Printer, error)
}

// ExecService shells out to an OS utility that prints one queue per line
// as tab-separated "name<TAB>driver<TAB>port". Enumeration utilities are
// flaky right after a driver registration, so calls are retried under the
// configured backoff policy with escalating timeouts.
type ExecService struct {
	Path   string
	Args   []string
	Policy backoff.Policy
}

// Printers implements Service.
func (s *ExecService) Printers(ctx context.Context) ([]Printer, error) {
	var printers []Printer

	err := backoff.Retry(ctx, s.Policy, func(attemptCtx context.Context) error {
		cmd := &toolrun.Command{Path: s.Path, Args: s.Args}

		res := cmd.Run(attemptCtx)
		if res.Err != nil {
			ctxlog.Debug(ctx, "enumeration attempt failed", "error", res.Err, "stderr", string(res.Stderr))
			return res.Err
		}

		printers = parsePrinters(res.Stdout)

		return nil
	})
	if err != nil {
		return nil, errors.Join(ErrEnumerate, err)
	}

	return printers, nil
}

// Exists reports whether a queue with the given name is installed.
func Exists(ctx context.Context, s Service, queueName string) (bool, error) {
	printers, err := s.Printers(ctx)
	if err != nil {
		return false, err
	}

	for _, p := range printers {
		if p.Name == queueName {
			return true, nil
		}
	}

	return false, nil
}

func parsePrinters(out []byte) []Printer {
	var printers []Printer

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		p := Printer{Name: fields[0]}

		if len(fields) > 1 {
			p.Driver = fields[1]
		}

		if len(fields) > 2 {
			p.Port = fields[2]
		}

		printers = append(printers, p)
	}

	return printers
}

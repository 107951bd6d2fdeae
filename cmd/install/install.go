// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package install implements the one-shot install command. It runs a
// single job in-process and prints each event as it happens, for use
// without a running daemon.
package install

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/config"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/engine"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/pipeline"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
)

const (
	targetArg = "target"

	configFlag = "config"
	modeFlag   = "mode"
	sourceFlag = "source"
	paramFlag  = "param"
)

// InstallCmd runs one installation job to completion.
var InstallCmd = &cli.Command{
	Name:        "install",
	Usage:       "Install a printer and wait for completion",
	Description: "Run one installation job in-process, streaming step progress to stdout.",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      targetArg,
			UsageText: "TARGET",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      configFlag,
			Aliases:   []string{"c"},
			Usage:     "Path to the YAML configuration file",
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:  modeFlag,
			Usage: "Install mode: package, local or queue-only",
			Value: "package",
		},
		&cli.StringFlag{
			Name:  sourceFlag,
			Usage: "Driver package locator (URL or local path)",
		},
		&cli.StringSliceFlag{
			Name:  paramFlag,
			Usage: "Extra job parameter as key=value, repeatable",
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	target := cmd.StringArg(targetArg)
	if target == "" {
		return cli.Exit("Please provide a target printer name", 1)
	}

	cfg, err := config.Load(afero.NewOsFs(), cmd.String(configFlag))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	params, err := parseParams(cmd.StringSlice(paramFlag))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	eng := engine.New(ctx, cfg)
	defer eng.Close()

	done := make(chan protocol.State, 1)

	events, unsubscribe := eng.Hub.Subscribe("")
	defer unsubscribe()

	receipt, err := eng.Orchestrator.Submit(ctx, pipeline.InstallRequest{
		TargetName:    target,
		SourceLocator: cmd.String(sourceFlag),
		InstallMode:   cmd.String(modeFlag),
		Params:        params,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("install rejected: %s", err), 1)
	}

	fmt.Fprintf(cmd.Writer, "job %s accepted\n", receipt.JobID)

	go func() {
		for ev := range events {
			if ev.JobID != receipt.JobID {
				continue
			}

			printEvent(cmd, ev)

			if protocol.IsControl(ev.StepID) && ev.StepID != protocol.StepJobInit {
				done <- ev.State
				return
			}
		}

		done <- protocol.StateFailed
	}()

	var state protocol.State

	select {
	case <-ctx.Done():
		_ = eng.Orchestrator.Cancel(receipt.JobID)
		eng.Orchestrator.Wait()

		return cli.Exit("interrupted", 1)

	case state = <-done:
	}

	eng.Orchestrator.Wait()

	if state != protocol.StateSuccess {
		return cli.Exit(fmt.Sprintf("job %s: %s", receipt.JobID, state), 1)
	}

	fmt.Fprintf(cmd.Writer, "job %s succeeded\n", receipt.JobID)

	return nil
}

func printEvent(cmd *cli.Command, ev protocol.Event) {
	switch {
	case protocol.IsControl(ev.StepID):
		fmt.Fprintf(cmd.Writer, "%s %s\n", ev.StepID, ev.State)

	case ev.Progress != nil:
		fmt.Fprintf(cmd.Writer, "  %-16s %-8s %d/%d %s\n",
			ev.StepID, ev.State, ev.Progress.Current, ev.Progress.Total, ev.Progress.Unit)

	case ev.Error != nil:
		fmt.Fprintf(cmd.Writer, "  %-16s %-8s [%s] %s\n", ev.StepID, ev.State, ev.Error.Code, ev.Error.Detail)

	default:
		fmt.Fprintf(cmd.Writer, "  %-16s %s\n", ev.StepID, ev.State)
	}
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	params := make(map[string]string, len(raw))

	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}

		params[k] = v
	}

	return params, nil
}

// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package plancmd implements the plan command showing the step pipeline
// for each install mode.
package plancmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/plan"
)

const modeArg = "mode"

// PlanCmd prints the ordered step plan for an install mode.
var PlanCmd = &cli.Command{
	Name:        "plan",
	Usage:       "Show the step pipeline for an install mode",
	Description: "Print the ordered steps that a job in the given install mode executes.",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      modeArg,
			UsageText: "[MODE]",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Action: actionFunc,
}

func actionFunc(_ context.Context, cmd *cli.Command) error {
	modes := plan.Modes()

	if arg := cmd.StringArg(modeArg); arg != "" {
		mode, err := plan.ParseMode(arg)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		modes = []plan.Mode{mode}
	}

	for _, mode := range modes {
		p, err := plan.ForMode(mode)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		fmt.Fprintf(cmd.Writer, "%s:\n", mode)

		for i, step := range p.Steps {
			fmt.Fprintf(cmd.Writer, "  %d. %-16s %s\n", i+1, step.ID, step.Label)
		}

		fmt.Fprintln(cmd.Writer)
	}

	return nil
}

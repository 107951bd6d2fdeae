// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmd contains the command-line interface (CLI) for the module.
package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/EDYSuperCore/ePrinty-sub000/cmd/install"
	"github.com/EDYSuperCore/ePrinty-sub000/cmd/plancmd"
	"github.com/EDYSuperCore/ePrinty-sub000/cmd/serve"
)

var (
	// Version is set during the build process.
	Version = "dev"
	// Commit is set during the build process.
	Commit = "unknown"
)

// RootCmd is the root command for the CLI.
var RootCmd = &cli.Command{
	Commands: []*cli.Command{
		serve.ServeCmd,
		install.InstallCmd,
		plancmd.PlanCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "eprinty",
	Description: `ePrinty is a printer driver installation engine. It downloads or
accepts driver packages, extracts them into a per-job staging area, drives the
OS print subsystem tools through a fixed step pipeline, and reduces the
resulting event stream into live job snapshots served over HTTP.`,
	Usage:     "eprinty serve --config eprinty.yaml",
	Version:   fmt.Sprintf("%s (%s)", Version, Commit),
	Copyright: "Copyright (c) EDYSuperCore 2025. All rights reserved.",
	Authors: []any{
		"EDYSuperCore",
	},
	EnableShellCompletion: true,
}

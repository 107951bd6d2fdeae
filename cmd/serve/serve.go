// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package serve implements the daemon command hosting the HTTP API.
package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/config"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/engine"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/httpapi"
)

const (
	configFlag = "config"
	addrFlag   = "addr"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once
// shutdown begins.
const shutdownGrace = 10 * time.Second

// ServeCmd runs the installation engine as an HTTP daemon.
var ServeCmd = &cli.Command{
	Name:        "serve",
	Usage:       "Run the installation engine as an HTTP daemon",
	Description: "Serve the install API, job snapshots, live event streams and metrics over HTTP.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      configFlag,
			Aliases:   []string{"c"},
			Usage:     "Path to the YAML configuration file",
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:  addrFlag,
			Usage: "Listen address, overriding the configuration file",
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String(configFlag))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if addr := cmd.String(addrFlag); addr != "" {
		cfg.Server.Addr = addr
	}

	eng := engine.New(ctx, cfg)
	defer eng.Close()

	api := httpapi.New(eng.Orchestrator, eng.Store, eng.Hub, eng.Collector.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		ctxlog.Info(ctx, "http server listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			ctxlog.Warn(ctx, "http server shutdown incomplete", "error", err)
		}

		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return cli.Exit(err.Error(), 1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	return config.Load(afero.NewOsFs(), path)
}

// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config loads the YAML configuration file. It doubles as the
// persistent settings store supplying policy knobs, which are read before
// a job's meta is constructed.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
)

var (
	// ErrReadConfig is returned when the configuration file cannot be read.
	ErrReadConfig = errors.New("failed to read configuration file")
	// ErrParseConfig is returned when the configuration cannot be parsed.
	ErrParseConfig = errors.New("failed to parse configuration")
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.Trim(string(b), `"'`)

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.BytesMarshaler.
func (d Duration) MarshalYAML() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ToolSpec configures one external tool invoked by a pipeline step.
type ToolSpec struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// BackoffSpec configures the retry policy for printer enumeration.
type BackoffSpec struct {
	Attempts    int      `yaml:"attempts"`
	BaseTimeout Duration `yaml:"baseTimeout"`
	Multiplier  float64  `yaml:"multiplier"`
}

// Install holds the pipeline policy knobs.
type Install struct {
	// StagingRoot is the directory under which per-job staging
	// directories are created.
	StagingRoot string `yaml:"stagingRoot"`
	// DriverStore is the directory driver payloads are staged into,
	// keyed by driver key. Empty means a "eprinty-drivers" directory
	// under the staging root.
	DriverStore string `yaml:"driverStore"`
	// StepTimeout bounds each step that invokes an external tool.
	StepTimeout Duration `yaml:"stepTimeout"`
	// AlwaysRefreshDriver forces re-staging of driver files even when a
	// matching driver key is already present.
	AlwaysRefreshDriver bool `yaml:"alwaysRefreshDriver"`
	// KeepStagingOnFailure keeps failed staging directories for
	// diagnostics. Defaults off; the EPRINTY_KEEP_STAGING environment
	// variable also forces it on.
	KeepStagingOnFailure bool `yaml:"keepStagingOnFailure"`
	// Tools maps step ids (register-driver, ensure-port, ensure-queue)
	// to the external tool each invokes.
	Tools map[string]ToolSpec `yaml:"tools"`
	// Enumerate is the OS utility listing installed print queues.
	Enumerate ToolSpec `yaml:"enumerate"`
	// Backoff retries enumeration with escalating timeouts.
	Backoff BackoffSpec `yaml:"backoff"`
}

// Reducer holds the consumer-side knobs.
type Reducer struct {
	// WatchdogWindow bounds how long a job may go without a terminal
	// event before the reducer synthesizes a failure.
	WatchdogWindow Duration `yaml:"watchdogWindow"`
}

// Server holds the HTTP API knobs.
type Server struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration document.
type Config struct {
	Server  Server  `yaml:"server"`
	Install Install `yaml:"install"`
	Reducer Reducer `yaml:"reducer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr: ":8650",
		},
		Install: Install{
			StagingRoot: "",
			StepTimeout: Duration(2 * time.Minute),
			Backoff: BackoffSpec{
				Attempts:    2,
				BaseTimeout: Duration(10 * time.Second),
				Multiplier:  2,
			},
		},
		Reducer: Reducer{
			WatchdogWindow: Duration(12 * time.Second),
		},
	}
}

// Load reads the YAML file at path, layered over the defaults.
// An empty path returns the defaults unchanged.
func Load(fsys afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Join(ErrReadConfig, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Join(ErrParseConfig, err)
	}

	return cfg, nil
}

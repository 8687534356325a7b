// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/config"
	"github.com/AleutianAI/gclab/services/harness/failure"
)

// =============================================================================
// App
// =============================================================================

// app holds the resolved configuration and logger shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Persistent flags.
	configPath string
	logLevel   string
	logJSON    bool
	storePath  string
	inMemory   bool
	output     string
	reportFile string
	adminAddr  string

	cfg    config.LaunchConfig
	logger *logging.Logger
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, logger: logging.Discard()}
}

// newRootCmd builds the command tree.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gclab",
		Short: "Allocation benchmarks and memory-leak scenarios for the Go runtime",
		Long: `gclab drives synthetic allocation workloads and leak scenarios and
reports latency percentiles, throughput and heap residency.

Examples:
  gclab bench --kind throughput --measure 100000
  gclab bench --kind latency --measure 30s --set-baseline
  gclab leak --scenario listener --leak --budget 256MiB
  gclab reports list
  gclab compare <run-id>`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
		PersistentPostRun: func(*cobra.Command, []string) { _ = a.logger.Close() },
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "YAML launch configuration file")
	f.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.BoolVar(&a.logJSON, "log-json", false, "Write logs as JSON")
	f.StringVar(&a.storePath, "store", "", "Report store directory")
	f.BoolVar(&a.inMemory, "in-memory", false, "Keep the report store in memory")
	f.StringVarP(&a.output, "output", "o", "", "Output format: console or json")
	f.StringVar(&a.reportFile, "report-file", "", "Append JSON-lines reports to this file")
	f.StringVar(&a.adminAddr, "admin", "", "Admin HTTP listen address, e.g. 127.0.0.1:6060")

	root.AddCommand(
		newBenchCmd(a),
		newLeakCmd(a),
		newReportsCmd(a),
		newCompareCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads the configuration, applies persistent flag overrides and
// builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Logging.JSON = a.logJSON
	}
	if flags.Changed("store") {
		cfg.Storage.Path = a.storePath
	}
	if flags.Changed("in-memory") {
		cfg.Storage.InMemory = a.inMemory
	}
	if flags.Changed("output") {
		cfg.Output.Format = a.output
	}
	if flags.Changed("report-file") {
		cfg.Output.File = a.reportFile
	}
	if flags.Changed("admin") {
		cfg.Admin.Addr = a.adminAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return failure.Invalid("logging.level", cfg.Logging.Level, err.Error())
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "gclab",
		JSON:    cfg.Logging.JSON,
		Output:  a.stderr,
	})
	a.logger.Debug("configuration loaded", "path", a.configPath, "runtime", cfg.Runtime.String())
	return nil
}

// newConfigCmd prints the effective configuration.
func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			data, err := config.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}

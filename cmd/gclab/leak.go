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
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/gclab/services/harness/config"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/report"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/scenario"
)

// steadySlope is the heap trend, in bytes per second, below which a fixed
// scenario counts as steady.
const steadySlope = 64 << 10

// =============================================================================
// leak
// =============================================================================

type leakFlags struct {
	scenario string
	leak     bool
	capacity string
	ticks    int64
	rate     float64
	budget   string
	ttl      time.Duration
	noSave   bool
}

func newLeakCmd(a *app) *cobra.Command {
	f := &leakFlags{}
	cmd := &cobra.Command{
		Use:   "leak",
		Short: "Run a leak scenario until cancelled, max ticks or the memory budget",
		Long: `Repeats a scenario tick at a fixed rate while reporting heap residency.

Scenarios:
  session   sessions added to a long-lived collection; the fixed variant
            evicts beyond capacity and expires by TTL
  listener  processors registered with an event source; the fixed variant
            unregisters each one after use

With --leak the retained set grows without bound. Exceeding --budget
writes a heap capture and exits with status 3.

Examples:
  gclab leak --scenario session --leak --budget 512MiB
  gclab leak --scenario listener --rate 500
  gclab leak -c leak.yaml --admin 127.0.0.1:6060`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLeak(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.scenario, "scenario", "s", "", "Scenario: session or listener")
	fl.BoolVar(&f.leak, "leak", false, "Run the leaking variant")
	fl.StringVar(&f.capacity, "capacity", "", "Retention capacity for the fixed session variant")
	fl.Int64Var(&f.ticks, "ticks", 0, "Stop after this many ticks (0 runs until cancelled)")
	fl.Float64Var(&f.rate, "rate", 0, "Ticks per second (0 is unpaced)")
	fl.StringVar(&f.budget, "budget", "", `Live heap budget, e.g. "512MiB"`)
	fl.DurationVar(&f.ttl, "ttl", 0, "Session expiry for the fixed session variant")
	fl.BoolVar(&f.noSave, "no-save", false, "Do not store the summary")
	return cmd
}

func (f *leakFlags) apply(cmd *cobra.Command, cfg *config.LaunchConfig) error {
	fl := cmd.Flags()
	if fl.Changed("scenario") {
		cfg.Scenario.Kind = f.scenario
	}
	if fl.Changed("leak") {
		cfg.LeakMode = config.Switch(f.leak)
	}
	if fl.Changed("capacity") {
		c, err := config.ParseCapacity(f.capacity)
		if err != nil {
			return err
		}
		cfg.Capacity = c
	}
	if fl.Changed("ticks") {
		cfg.Scenario.MaxTicks = f.ticks
	}
	if fl.Changed("rate") {
		cfg.Scenario.TickRate = f.rate
	}
	if fl.Changed("budget") {
		b, err := config.ParseByteSize(f.budget)
		if err != nil {
			return err
		}
		cfg.Scenario.MemoryBudget = b
	}
	if fl.Changed("ttl") {
		cfg.Scenario.TTL = config.Duration(f.ttl)
	}
	return cfg.Validate()
}

// newScenario builds the configured scenario.
func newScenario(cfg config.LaunchConfig) (scenario.Scenario, error) {
	kind, err := scenario.ParseKind(cfg.Scenario.Kind)
	if err != nil {
		return nil, err
	}
	if kind == scenario.KindListener {
		return scenario.NewListenerScenario(cfg.ListenerConfig())
	}
	return scenario.NewSessionScenario(cfg.SessionConfig(), nil)
}

func (a *app) runLeak(cmd *cobra.Command, f *leakFlags) error {
	ctx := cmd.Context()
	if err := f.apply(cmd, &a.cfg); err != nil {
		return err
	}
	s, err := newScenario(a.cfg)
	if err != nil {
		return err
	}

	e, err := a.openEnv(ctx, envOptions{
		Telemetry:     true,
		Diagnostics:   true,
		CapturePrefix: s.Name(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			a.logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	restore := a.cfg.Runtime.Apply()
	defer restore()

	var last atomic.Pointer[scenario.Status]
	onStatus := func(st scenario.Status) {
		last.Store(&st)
		if e.console != nil {
			e.console.Status(st)
		} else {
			e.json.Status(st)
		}
		if e.prom != nil {
			e.prom.ObserveStatus(st)
		}
		if e.influx != nil {
			if err := e.influx.RecordStatus(ctx, st); err != nil {
				a.logger.Debug("influx status write failed", "error", err)
			}
		}
	}
	driver, err := scenario.NewDriver(a.cfg.DriverConfig(),
		scenario.WithDriverLogger(a.logger),
		scenario.WithStatusHandler(onStatus),
	)
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(bgCtx)
	e.background(gctx, g, func() any {
		if st := last.Load(); st != nil {
			return st
		}
		return s.Stats()
	})
	var stopPeriodic func()
	if e.console != nil && e.cfg.Diagnostics.SampleEvery > 0 {
		periodic := report.NewPeriodic(e.tracker, e.cfg.Diagnostics.SampleEvery.Std(),
			func(rs diagnostics.RuntimeSample, slope float64) { _ = e.console.Sample(rs, slope) })
		stopPeriodic = periodic.Start(gctx)
	}

	sum, runErr := driver.Run(ctx, s)
	if stopPeriodic != nil {
		stopPeriodic()
	}
	saveCtx := context.WithoutCancel(ctx)
	if failure.IsResourceExhaustion(runErr) && bool(e.cfg.Diagnostics.OnExhaustion) {
		e.captureHeap(saveCtx, "exhaustion")
	}
	stopBackground()
	if err := g.Wait(); err != nil {
		a.logger.Warn("background task failed", "error", err)
	}

	a.checkResidency(e, sum)
	if err := e.sinks.RecordScenario(saveCtx, &sum); err != nil {
		a.logger.Warn("report sink failed", "error", err)
	}
	if !f.noSave {
		id, err := e.store.SaveScenario(saveCtx, &sum)
		if err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		a.logger.Debug("summary stored", "id", id)
	}
	return runErr
}

// checkResidency logs the heap trend seen by the tracker. A fixed
// scenario whose heap keeps growing is reported as a warning.
func (a *app) checkResidency(e *env, sum scenario.Summary) {
	if e.tracker == nil || len(e.tracker.Samples()) < 2 {
		return
	}
	slope := e.tracker.Slope()
	if sum.Scenario.Mode == retention.ModeFixed.String() && !e.tracker.Steady(steadySlope) {
		a.logger.Warn("heap still growing in fixed scenario", "scenario", sum.Scenario.Name, "bytes_per_sec", slope)
		return
	}
	a.logger.Info("heap trend", "scenario", sum.Scenario.Name, "bytes_per_sec", slope)
}

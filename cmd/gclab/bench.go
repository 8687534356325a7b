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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/gclab/services/harness/config"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/regression"
	"github.com/AleutianAI/gclab/services/harness/report"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/storage"
)

// =============================================================================
// bench
// =============================================================================

// benchFlags are bench overrides applied on top of the loaded configuration.
type benchFlags struct {
	kind        string
	itemSize    string
	capacity    string
	warmup      int64
	measure     string
	seed        uint64
	leak        bool
	timeout     time.Duration
	runID       string
	noSave      bool
	noCompare   bool
	setBaseline bool
}

func newBenchCmd(a *app) *cobra.Command {
	f := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a benchmark and report latency, throughput and allocation",
		Long: `Runs one benchmark: warm-up, then measurement until the sample count,
duration or timeout is reached. The result is stored, sent to every
configured sink and compared against the stored baseline for its kind.

Kinds:
  throughput  closed loop, as fast as possible
  latency     paced batches with a fixed inter-arrival time
  mixed       steady traffic with periodic bursts
  allocation  pure allocation rate, nothing retained

Examples:
  gclab bench --kind latency --measure 30s
  gclab bench --kind throughput --item-size "uniform(512,4096)" --leak
  gclab bench -c launch.yaml --set-baseline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBench(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.kind, "kind", "k", "", "Benchmark kind: throughput, latency, mixed or allocation")
	fl.StringVar(&f.itemSize, "item-size", "", `Item size, e.g. 1024, "fixed(1024)", "uniform(64,4096)", "exponential(2048)"`)
	fl.StringVar(&f.capacity, "capacity", "", `Retention capacity or "unbounded"`)
	fl.Int64Var(&f.warmup, "warmup", 0, "Warm-up sample count")
	fl.StringVarP(&f.measure, "measure", "n", "", "Measurement bound: a sample count or a duration")
	fl.Uint64Var(&f.seed, "seed", 0, "Generator seed")
	fl.BoolVar(&f.leak, "leak", false, "Retain strong items without bound")
	fl.DurationVar(&f.timeout, "timeout", 0, "Measurement timeout")
	fl.StringVar(&f.runID, "run-id", "", "Run ID (default: random UUID)")
	fl.BoolVar(&f.noSave, "no-save", false, "Do not store the result")
	fl.BoolVar(&f.noCompare, "no-compare", false, "Skip the baseline comparison")
	fl.BoolVar(&f.setBaseline, "set-baseline", false, "Store the result as the baseline for its kind")
	return cmd
}

// apply copies the changed flags into cfg.
func (f *benchFlags) apply(cmd *cobra.Command, cfg *config.LaunchConfig) error {
	fl := cmd.Flags()
	if fl.Changed("kind") {
		cfg.WorkloadKind = f.kind
	}
	if fl.Changed("item-size") {
		if err := cfg.ItemSize.Set(f.itemSize); err != nil {
			return err
		}
	}
	if fl.Changed("capacity") {
		c, err := config.ParseCapacity(f.capacity)
		if err != nil {
			return err
		}
		cfg.Capacity = c
	}
	if fl.Changed("warmup") {
		cfg.WarmupCount = f.warmup
	}
	if fl.Changed("measure") {
		m, err := config.ParseMeasure(f.measure)
		if err != nil {
			return err
		}
		cfg.MeasureCount = m
	}
	if fl.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fl.Changed("leak") {
		cfg.LeakMode = config.Switch(f.leak)
	}
	if fl.Changed("timeout") {
		cfg.Timeout = config.Duration(f.timeout)
	}
	return cfg.Validate()
}

func (a *app) runBench(cmd *cobra.Command, f *benchFlags) error {
	ctx := cmd.Context()
	if err := f.apply(cmd, &a.cfg); err != nil {
		return err
	}
	rcfg, err := a.cfg.RunnerConfig()
	if err != nil {
		return err
	}

	e, err := a.openEnv(ctx, envOptions{
		Telemetry:     true,
		Diagnostics:   true,
		CapturePrefix: "bench_" + rcfg.Kind.String(),
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

	runID := f.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	opts := []runner.Option{runner.WithLogger(a.logger), runner.WithRunID(runID)}
	if e.prom != nil {
		opts = append(opts, runner.WithObserver(e.prom))
	}
	runCtx := ctx
	var span trace.Span
	if e.otel != nil {
		runCtx, span = e.otel.StartRunSpan(ctx, runID, rcfg.Kind)
		opts = append(opts, runner.WithObserver(e.otel.ObserveSpan(span)))
	}

	r, err := runner.New(rcfg, opts...)
	if err != nil {
		return err
	}
	live := func() report.LiveStatus {
		return report.LiveStatus{
			RunID:  r.ID(),
			Kind:   r.Kind(),
			State:  r.State(),
			Report: r.Snapshot(metrics.Window{Last: 10 * time.Second}),
		}
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(bgCtx)
	e.background(gctx, g, func() any { return live() })
	if every := a.cfg.Output.StatusEvery.Std(); every > 0 {
		g.Go(func() error {
			e.liveLoop(gctx, every, live)
			return nil
		})
	}

	a.logger.Info("benchmark starting", "run_id", runID, "kind", rcfg.Kind, "runtime", a.cfg.Runtime.String())
	res, runErr := r.Run(runCtx)
	if span != nil {
		span.End()
	}
	stopBackground()
	if err := g.Wait(); err != nil {
		a.logger.Warn("background task failed", "error", err)
	}
	if runErr != nil {
		return runErr
	}

	// The result is recorded even when ctx was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if err := e.sinks.RecordRun(saveCtx, res); err != nil {
		a.logger.Warn("report sink failed", "error", err)
	}
	if !f.noSave {
		if err := e.store.Save(saveCtx, res); err != nil {
			return fmt.Errorf("store result: %w", err)
		}
	}
	if f.setBaseline {
		if f.noSave {
			return errors.New("--set-baseline requires the result to be stored")
		}
		if _, err := e.store.SetBaseline(saveCtx, res.RunID); err != nil {
			return fmt.Errorf("set baseline: %w", err)
		}
		a.logger.Info("baseline updated", "kind", res.Kind, "run_id", res.RunID)
		return nil
	}
	if f.noCompare {
		return nil
	}
	return a.compareToBaseline(saveCtx, e, res)
}

// liveLoop emits a live benchmark status every interval until ctx is done.
func (e *env) liveLoop(ctx context.Context, every time.Duration, live func() report.LiveStatus) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ls := live()
			if ls.State != runner.StateMeasuring {
				continue
			}
			if e.console != nil {
				e.console.Live(ls)
			} else {
				e.json.Live(ls)
			}
		}
	}
}

// compareToBaseline compares res against the stored baseline of its kind.
// A missing baseline is not an error.
func (a *app) compareToBaseline(ctx context.Context, e *env, res *runner.Result) error {
	baseline, err := e.store.Baseline(ctx, res.Kind)
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Info("no baseline stored, skipping comparison", "kind", res.Kind)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	if baseline.RunID == res.RunID {
		return nil
	}
	return a.compare(ctx, e, baseline, res)
}

// compare runs the detector and renders its findings.
func (a *app) compare(ctx context.Context, e *env, baseline, current *runner.Result) error {
	cmp, err := regression.NewDetector(a.cfg.DetectorConfig()).Detect(baseline, current)
	if err != nil {
		return err
	}
	if e.console != nil {
		err = e.console.Comparison(cmp)
	} else {
		err = e.json.Comparison(cmp)
	}
	if err != nil {
		return err
	}
	if e.file != nil {
		if err := e.file.Comparison(ctx, cmp); err != nil {
			a.logger.Warn("report file write failed", "error", err)
		}
	}
	if !cmp.Pass {
		return fmt.Errorf("%w: %d regressions, max severity %s", errRegression, len(cmp.Regressions), cmp.MaxSeverity)
	}
	return nil
}

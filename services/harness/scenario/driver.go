// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/failure"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// DriverConfig configures a Driver.
type DriverConfig struct {
	// TickRate is the number of ticks per second. Zero means as fast as
	// possible. Default: 100
	TickRate float64

	// MaxTicks stops the driver after this many ticks. Zero means run until
	// cancelled or exhausted.
	MaxTicks int64

	// SweepEvery is the interval between Sweep calls. Zero disables
	// sweeping. Default: 30s
	SweepEvery time.Duration

	// ReportEvery is the interval between status reports. Zero disables
	// them. Default: 60s
	ReportEvery time.Duration

	// MemoryBudget is the live-heap limit in bytes. Zero disables the
	// check.
	MemoryBudget uint64

	// BudgetCheckEvery is the number of ticks between heap readings.
	// Default: 50
	BudgetCheckEvery int64
}

// DefaultDriverConfig returns the defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		TickRate:         100,
		SweepEvery:       30 * time.Second,
		ReportEvery:      time.Minute,
		BudgetCheckEvery: 50,
	}
}

// Validate checks the configuration.
func (c DriverConfig) Validate() error {
	if c.TickRate < 0 {
		return failure.Invalid("tick_rate", c.TickRate, "must be non-negative")
	}
	if c.MaxTicks < 0 {
		return failure.Invalid("max_ticks", c.MaxTicks, "must be non-negative")
	}
	if c.SweepEvery < 0 {
		return failure.Invalid("sweep_every", c.SweepEvery, "must be non-negative")
	}
	if c.ReportEvery < 0 {
		return failure.Invalid("report_every", c.ReportEvery, "must be non-negative")
	}
	if c.BudgetCheckEvery < 0 {
		return failure.Invalid("budget_check_every", c.BudgetCheckEvery, "must be non-negative")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Status is a periodic report of a running scenario.
type Status struct {
	Scenario Stats                     `json:"scenario"`
	Elapsed  time.Duration             `json:"elapsed"`
	Runtime  diagnostics.RuntimeSample `json:"runtime"`
}

// Summary describes a finished driver run.
type Summary struct {
	Scenario  Stats                     `json:"scenario"`
	Ticks     int64                     `json:"ticks"`
	Elapsed   time.Duration             `json:"elapsed"`
	Final     diagnostics.RuntimeSample `json:"final"`
	Exhausted bool                      `json:"exhausted"`
}

// -----------------------------------------------------------------------------
// Driver
// -----------------------------------------------------------------------------

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the logger. Default: logging.Default().
func WithDriverLogger(logger *logging.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDriverClock sets the clock used for sweep and report intervals.
func WithDriverClock(clock clockz.Clock) DriverOption {
	return func(d *Driver) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithStatusHandler registers fn to receive every status report. fn runs
// on the driver goroutine.
func WithStatusHandler(fn func(Status)) DriverOption {
	return func(d *Driver) { d.onStatus = fn }
}

// Driver repeatedly ticks a Scenario.
//
// Description:
//
//	Ticks are paced by a token-bucket limiter. Between ticks the driver
//	sweeps, reports status, and reads the live heap every
//	BudgetCheckEvery ticks to enforce MemoryBudget. Heap readings stop the
//	world briefly, so they are spaced out rather than taken per tick.
//
// Thread Safety: Run is called from one goroutine.
type Driver struct {
	cfg      DriverConfig
	clock    clockz.Clock
	logger   *logging.Logger
	limiter  *rate.Limiter
	onStatus func(Status)
}

// NewDriver validates cfg and returns a Driver.
func NewDriver(cfg DriverConfig, opts ...DriverOption) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BudgetCheckEvery == 0 {
		cfg.BudgetCheckEvery = 50
	}
	limit := rate.Inf
	if cfg.TickRate > 0 {
		limit = rate.Limit(cfg.TickRate)
	}
	d := &Driver{
		cfg:     cfg,
		clock:   clockz.RealClock,
		logger:  logging.Default(),
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run ticks s until ctx is done, MaxTicks is reached, or the heap exceeds
// MemoryBudget.
//
// Outputs:
//   - Summary: Counters at the point the driver stopped.
//   - error: *failure.ExhaustionError when the budget was exceeded, a
//     wrapped Tick error, or nil for cancellation and MaxTicks.
func (d *Driver) Run(ctx context.Context, s Scenario) (Summary, error) {
	logger := d.logger.With("scenario", s.Name())
	logger.Info("scenario starting",
		"tick_rate", d.cfg.TickRate,
		"max_ticks", d.cfg.MaxTicks,
		"memory_budget", d.cfg.MemoryBudget,
	)

	start := d.clock.Now()
	lastSweep, lastReport := start, start
	var ticks int64

	summarize := func(exhausted bool) Summary {
		return Summary{
			Scenario:  s.Stats(),
			Ticks:     ticks,
			Elapsed:   d.clock.Now().Sub(start),
			Final:     diagnostics.ReadRuntime(),
			Exhausted: exhausted,
		}
	}

	for d.cfg.MaxTicks == 0 || ticks < d.cfg.MaxTicks {
		if ctx.Err() != nil {
			break
		}
		if err := d.limiter.Wait(ctx); err != nil {
			break
		}
		if err := s.Tick(); err != nil {
			sum := summarize(false)
			logger.Error("scenario tick failed", "error", err, "ticks", ticks)
			return sum, fmt.Errorf("tick %d: %w", ticks+1, err)
		}
		ticks++

		now := d.clock.Now()
		if d.cfg.SweepEvery > 0 && now.Sub(lastSweep) >= d.cfg.SweepEvery {
			if removed := s.Sweep(); removed > 0 {
				logger.Info("sweep removed expired entries", "removed", removed, "retained", s.Retained())
			}
			lastSweep = now
		}

		if d.cfg.MemoryBudget > 0 && ticks%d.cfg.BudgetCheckEvery == 0 {
			if rs := diagnostics.ReadRuntime(); rs.HeapAlloc > d.cfg.MemoryBudget {
				sum := summarize(true)
				err := &failure.ExhaustionError{
					Scenario:    s.Name(),
					HeapBytes:   rs.HeapAlloc,
					BudgetBytes: d.cfg.MemoryBudget,
					Ticks:       ticks,
				}
				logger.Warn("memory budget exceeded", "heap_alloc", rs.HeapAlloc, "retained", s.Retained())
				return sum, err
			}
		}

		if d.cfg.ReportEvery > 0 && now.Sub(lastReport) >= d.cfg.ReportEvery {
			d.report(logger, s, now.Sub(start))
			lastReport = now
		}
	}

	sum := summarize(false)
	logger.Info("scenario stopped",
		"ticks", sum.Ticks,
		"retained", sum.Scenario.Retained,
		"removed", sum.Scenario.Removed,
		"heap_alloc", sum.Final.HeapAlloc,
	)
	return sum, nil
}

func (d *Driver) report(logger *logging.Logger, s Scenario, elapsed time.Duration) {
	st := Status{Scenario: s.Stats(), Elapsed: elapsed, Runtime: diagnostics.ReadRuntime()}
	logger.Info("scenario status",
		"elapsed", elapsed.Round(time.Second),
		"ticks", st.Scenario.Ticks,
		"retained", st.Scenario.Retained,
		"removed", st.Scenario.Removed,
		"heap_alloc", st.Runtime.HeapAlloc,
		"num_gc", st.Runtime.NumGC,
	)
	if d.onStatus != nil {
		d.onStatus(st)
	}
}

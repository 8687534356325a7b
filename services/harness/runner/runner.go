// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// ErrAlreadyStarted is returned by Run on a Runner that has already run.
var ErrAlreadyStarted = errors.New("runner already started")

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default: logging.Default().
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock used for sample timestamps, pacing and the
// measurement timeout. Default: clockz.RealClock.
func WithClock(clock clockz.Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithObserver adds a state-change observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithRunID sets the run ID. Default: a random UUID.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.id = id
		}
	}
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner executes one benchmark run.
//
// Description:
//
//	New builds the generator, retention controller and recorder from
//	Config; Run drives them until the measurement bound, the timeout,
//	cancellation or an internal failure. The recorder and controller stay
//	readable after Run returns.
//
// Thread Safety: Run is called once from one goroutine. ID, Kind, State,
// Snapshot, Recorder and RetentionStats are safe from any goroutine.
type Runner struct {
	cfg       Config
	id        string
	logger    *logging.Logger
	clock     clockz.Clock
	observers []Observer

	gen  *workload.Generator
	ctrl *retention.Controller
	rec  *metrics.Recorder

	state   atomic.Int32
	started atomic.Bool

	// producer-owned
	deadline time.Time
	next     time.Time
	ratioAcc float64
	seq      int64
	checksum uint64
}

// New validates cfg and returns an idle Runner.
//
// Outputs:
//   - *Runner: Idle runner. Nil on error.
//   - error: *failure.ConfigurationError for invalid configuration.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gen, err := workload.NewGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	if cfg.Retention.Name == "" {
		cfg.Retention.Name = cfg.Kind.String() + "-" + cfg.Retention.Mode.String()
	}
	ctrl, err := retention.NewController(cfg.Retention)
	if err != nil {
		return nil, err
	}
	rec, err := metrics.NewRecorder(cfg.Window)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: logging.Default(),
		clock:  clockz.RealClock,
		gen:    gen,
		ctrl:   ctrl,
		rec:    rec,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("run_id", r.id, "kind", cfg.Kind.String())
	return r, nil
}

// ID returns the run ID.
func (r *Runner) ID() string { return r.id }

// Kind returns the configured kind.
func (r *Runner) Kind() Kind { return r.cfg.Kind }

// Config returns the validated configuration.
func (r *Runner) Config() Config { return r.cfg }

// State returns the current state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Recorder returns the sample recorder for live snapshots.
func (r *Runner) Recorder() *metrics.Recorder { return r.rec }

// RetentionStats returns the retention controller counters.
func (r *Runner) RetentionStats() retention.Stats { return r.ctrl.Stats() }

// Snapshot returns a report over window without blocking the producer.
func (r *Runner) Snapshot(w metrics.Window) metrics.Report { return r.rec.Snapshot(w) }

// Run executes the benchmark.
//
// Description:
//
//	Run moves the Runner through WarmingUp and Measuring to Completed.
//	Cancellation of ctx and the measurement timeout are checked once per
//	sample, never mid-sample. Either yields a Report flagged incomplete
//	holding exactly the samples recorded so far. A malformed item or an
//	exhausted generator is logged and also yields an incomplete Report,
//	with Result.Failure set.
//
// Inputs:
//   - ctx: Cooperative cancellation.
//
// Outputs:
//   - *Result: The run result. Nil only with ErrAlreadyStarted.
//   - error: ErrAlreadyStarted on a second call. Nil otherwise.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	r.logger.Info("run starting",
		"seed", r.cfg.Generator.Seed,
		"item_size", r.cfg.Generator.Size.String(),
		"retention", r.ctrl.Name(),
		"warmup_count", r.cfg.Window.WarmupCount,
		"measure_count", r.cfg.Window.MeasureCount,
		"measure_duration", r.cfg.Window.MeasureDuration,
	)

	before := diagnostics.ReadRuntime()
	startedAt := r.clock.Now()

	r.transition(StateWarmingUp)
	if r.rec.Phase() != metrics.PhaseWarmup {
		r.enterMeasuring()
	}

	reason, runErr := r.loop(ctx)

	r.rec.ForceDone()
	r.transition(StateCompleted)
	duration := r.clock.Now().Sub(startedAt)
	after := diagnostics.ReadRuntime()

	report := r.rec.Snapshot(metrics.Window{})
	if reason != "" {
		report = report.MarkIncomplete(reason)
	}

	result := &Result{
		RunID:     r.id,
		Kind:      r.cfg.Kind,
		State:     StateCompleted,
		StartedAt: startedAt,
		Duration:  duration,
		Seed:      r.cfg.Generator.Seed,
		ItemSize:  r.cfg.Generator.Size.String(),
		LeakMode:  r.cfg.Retention.Mode == retention.ModeLeak,
		GoVersion: runtime.Version(),
		Report:    report,
		Memory:    diagnostics.MemoryDelta(before, after),
		Retention: r.ctrl.Stats(),
	}
	if r.cfg.KeepLatencies {
		result.Latencies = r.rec.Latencies(metrics.Window{})
	}

	if runErr != nil {
		result.Failure = runErr.Error()
		r.logger.Error("run terminated by internal failure",
			"error", runErr,
			"samples", report.Count,
		)
	}
	r.logger.Info("run completed",
		"samples", report.Count,
		"warmup_discarded", report.WarmupDiscarded,
		"p50", report.Latency.P50,
		"p99", report.Latency.P99,
		"items_per_sec", report.Throughput.ItemsPerSecond,
		"gc_cycles", result.Memory.GCCycles,
		"incomplete", report.Incomplete,
		"reason", report.Reason,
	)
	return result, nil
}

// loop produces samples until a stop condition and returns the incomplete
// reason, empty when the measurement bound was reached.
func (r *Runner) loop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return stopReason(err), nil
		}
		if !r.deadline.IsZero() && !r.clock.Now().Before(r.deadline) {
			return failure.ErrTimeout.Error(), nil
		}

		sample, err := r.step(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stopReason(ctxErr), nil
			}
			return "internal failure", err
		}

		switch r.rec.Record(sample) {
		case metrics.PhaseMeasuring:
			if r.State() == StateWarmingUp {
				r.enterMeasuring()
			}
		case metrics.PhaseDone:
			return "", nil
		}
	}
}

func stopReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.ErrTimeout.Error()
	}
	return failure.ErrCancelled.Error()
}

func (r *Runner) enterMeasuring() {
	if r.cfg.Timeout > 0 {
		r.deadline = r.clock.Now().Add(r.cfg.Timeout)
	}
	r.transition(StateMeasuring)
}

func (r *Runner) transition(to State) {
	from := State(r.state.Swap(int32(to)))
	if from == to {
		return
	}
	for _, o := range r.observers {
		o.OnStateChange(r.id, r.cfg.Kind, from, to)
	}
}

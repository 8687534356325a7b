// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner drives benchmark runs.
//
// A Runner composes a workload.Generator, a retention.Controller and a
// metrics.Recorder, and feeds them with one of four disciplines:
//
//   - Throughput: one item per sample, back to back.
//   - Latency: BatchSize items per sample, one sample per InterArrival.
//   - Mixed: a MixedRatio share of back-to-back samples, the rest paced,
//     plus a burst of BurstItems every BurstEvery samples.
//   - Allocation: BatchSize transient items per sample, released at once.
//
// # State Machine
//
//	Idle ──Run──▶ WarmingUp ──warm-up bound──▶ Measuring ──▶ Completed
//	                  │                           │
//	                  └──── cancel / timeout / internal failure ─▶ Completed (incomplete)
//
// A Runner is single use. Completed is terminal; Run on a used Runner
// returns ErrAlreadyStarted.
//
// # Measurement Path
//
// The producer goroutine does not log, read MemStats or call observers
// between two Record calls of the Measuring phase. Memory readings are
// taken before warm-up and after completion. Observers are notified on
// state changes only.
//
// # Example
//
//	cfg := runner.DefaultConfig(runner.KindLatency)
//	cfg.Window.MeasureCount = 10_000
//	r, err := runner.New(cfg, runner.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	res, err := r.Run(ctx)
package runner

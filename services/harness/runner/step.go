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

	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// step produces one sample using the configured discipline.
func (r *Runner) step(ctx context.Context) (metrics.Sample, error) {
	switch r.cfg.Kind {
	case KindLatency:
		return r.paced(ctx, r.cfg.BatchSize)
	case KindMixed:
		return r.mixed(ctx)
	case KindAllocation:
		return r.timed(r.cfg.BatchSize, true)
	default:
		return r.timed(1, false)
	}
}

// mixed picks a burst, a back-to-back or a paced sample.
func (r *Runner) mixed(ctx context.Context) (metrics.Sample, error) {
	r.seq++
	if r.cfg.BurstEvery > 0 && r.seq%int64(r.cfg.BurstEvery) == 0 {
		return r.timed(r.cfg.BurstItems, false)
	}
	r.ratioAcc += r.cfg.MixedRatio
	if r.ratioAcc >= 1 {
		r.ratioAcc--
		return r.timed(1, false)
	}
	return r.paced(ctx, r.cfg.BatchSize)
}

// paced waits for the next arrival slot, then times n items. A producer
// that has fallen behind schedule starts at once and restarts the schedule
// from now.
func (r *Runner) paced(ctx context.Context, n int) (metrics.Sample, error) {
	now := r.clock.Now()
	if r.next.IsZero() {
		r.next = now
	}
	r.next = r.next.Add(r.cfg.InterArrival)

	if wait := r.next.Sub(now); wait > 0 {
		select {
		case <-ctx.Done():
			return metrics.Sample{}, ctx.Err()
		case <-r.clock.After(wait):
		}
	} else {
		r.next = now
	}
	return r.timed(n, false)
}

// timed processes n items and returns their sample.
func (r *Runner) timed(n int, transient bool) (metrics.Sample, error) {
	start := r.clock.Now()
	bytes, err := r.process(n, transient)
	end := r.clock.Now()
	if err != nil {
		return metrics.Sample{}, err
	}
	return metrics.Sample{Start: start, End: end, Bytes: bytes, Items: n, Outcome: metrics.OutcomeSuccess}, nil
}

// process generates, verifies, touches and admits n items.
func (r *Runner) process(n int, transient bool) (int64, error) {
	var bytes int64
	for range n {
		var (
			item workload.WorkItem
			err  error
		)
		if transient {
			item, err = r.gen.NextAs(workload.ClassTransient)
		} else {
			item, err = r.gen.Next()
		}
		if err != nil {
			return bytes, err
		}
		if err := item.Verify(); err != nil {
			return bytes, err
		}
		r.checksum += item.Touch()
		bytes += int64(item.Size())
		r.ctrl.Admit(&item)
	}
	return bytes, nil
}

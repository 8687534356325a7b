// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/gclab/services/harness/retention"
)

// DefaultHistory is the number of readings a Tracker keeps.
const DefaultHistory = 720

// =============================================================================
// Tracker
// =============================================================================

// Tracker keeps a bounded history of RuntimeSamples and fits a linear trend
// to the live heap.
//
// # Description
//
// A leaking scenario shows a persistently positive heap slope; a fixed one
// settles to a slope near zero once its retention set is full. Slope is the
// least-squares fit of HeapAlloc against elapsed seconds over the retained
// history.
//
// # Thread Safety
//
// Safe for concurrent use. Add is typically called from the goroutine
// running Run while HTTP handlers read Samples and Slope.
//
// # Example
//
//	tracker := NewTracker(DefaultHistory)
//	go tracker.Run(ctx, sampler, 5*time.Second)
//	...
//	if !tracker.Steady(64 << 10) {
//	    logger.Warn("heap still growing", "bytes_per_sec", tracker.Slope())
//	}
type Tracker struct {
	mu      sync.Mutex
	history *retention.FIFO[RuntimeSample]
}

// NewTracker creates a Tracker holding up to capacity readings.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Tracker{history: retention.NewFIFO[RuntimeSample](capacity)}
}

// Add records one reading, evicting the oldest when full.
func (t *Tracker) Add(s RuntimeSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.Push(s)
}

// Samples returns the retained readings, oldest first.
func (t *Tracker) Samples() []RuntimeSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RuntimeSample, t.history.Len())
	for i := range out {
		out[i] = t.history.At(i)
	}
	return out
}

// Latest returns the most recent reading.
func (t *Tracker) Latest() (RuntimeSample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.history.Len() == 0 {
		return RuntimeSample{}, false
	}
	return t.history.At(t.history.Len() - 1), true
}

// Slope returns the heap trend in bytes per second. It returns 0 with
// fewer than two readings or when all readings share a timestamp.
func (t *Tracker) Slope() float64 {
	return HeapSlope(t.Samples())
}

// Steady reports whether the heap slope is at most maxBytesPerSec.
func (t *Tracker) Steady(maxBytesPerSec float64) bool {
	return t.Slope() <= maxBytesPerSec
}

// Run samples every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, sampler *Sampler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.Add(sampler.Sample(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Add(sampler.Sample(ctx))
		}
	}
}

// HeapSlope fits HeapAlloc against time by least squares and returns the
// slope in bytes per second.
func HeapSlope(samples []RuntimeSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	origin := samples[0].At
	n := float64(len(samples))

	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.At.Sub(origin).Seconds()
		y := float64(s.HeapAlloc)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/AleutianAI/gclab/services/harness/diagnostics"
)

// SampleSource supplies the latest runtime reading and heap trend.
// *diagnostics.Tracker satisfies it.
type SampleSource interface {
	Latest() (diagnostics.RuntimeSample, bool)
	Slope() float64
}

var _ SampleSource = (*diagnostics.Tracker)(nil)

// PeriodicOption configures a Periodic.
type PeriodicOption func(*Periodic)

// WithPeriodicClock replaces the real clock, for tests.
func WithPeriodicClock(clock clockz.Clock) PeriodicOption {
	return func(p *Periodic) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// Periodic emits the latest reading from a SampleSource on an interval.
// A reading is emitted once; ticks with no new reading are skipped.
type Periodic struct {
	source   SampleSource
	interval time.Duration
	emit     func(diagnostics.RuntimeSample, float64)
	clock    clockz.Clock

	last time.Time
}

// NewPeriodic returns a Periodic. An interval of zero or less defaults to
// five seconds.
func NewPeriodic(source SampleSource, interval time.Duration, emit func(diagnostics.RuntimeSample, float64), opts ...PeriodicOption) *Periodic {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &Periodic{source: source, interval: interval, emit: emit, clock: clockz.RealClock}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins emitting in a new goroutine and returns a function that
// stops it and waits for the goroutine to exit.
func (p *Periodic) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	ticker := p.clock.NewTicker(p.interval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				p.tick()
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (p *Periodic) tick() {
	s, ok := p.source.Latest()
	if !ok || !s.At.After(p.last) {
		return
	}
	p.last = s.At
	p.emit(s, p.source.Slope())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

// tick returns a sample of the given latency starting at the clock's time
// and advances the clock past it.
func tick(clock *clockz.FakeClock, latency time.Duration) Sample {
	start := clock.Now()
	clock.Advance(latency)
	return Sample{Start: start, End: clock.Now(), Bytes: 1024}
}

func TestRecorder_WarmupDiscarded(t *testing.T) {
	clock := clockz.NewFakeClock()
	r, err := NewRecorder(WindowConfig{WarmupCount: 100, MeasureCount: 50})
	require.NoError(t, err)
	assert.Equal(t, PhaseWarmup, r.Phase())

	var phases []Phase
	for i := 1; i <= 150; i++ {
		// Warm-up samples are slow so they would dominate if kept.
		latency := time.Millisecond
		if i <= 100 {
			latency = time.Second
		}
		phases = append(phases, r.Record(tick(clock, latency)))
	}

	assert.Equal(t, PhaseWarmup, phases[98])
	assert.Equal(t, PhaseMeasuring, phases[99], "100th sample completes warm-up")
	assert.Equal(t, PhaseMeasuring, phases[148])
	assert.Equal(t, PhaseDone, phases[149])

	rep := r.Snapshot(Window{})
	assert.Equal(t, 50, rep.Count)
	assert.Equal(t, int64(100), rep.WarmupDiscarded)
	assert.Equal(t, time.Millisecond, rep.Latency.Max)
	assert.Equal(t, time.Millisecond, rep.Latency.P99)

	// Samples after Done are ignored.
	assert.Equal(t, PhaseDone, r.Record(tick(clock, time.Hour)))
	assert.Equal(t, int64(50), r.Len())
}

func TestRecorder_DurationBounds(t *testing.T) {
	clock := clockz.NewFakeClock()
	r, err := NewRecorder(WindowConfig{
		WarmupDuration:  100 * time.Millisecond,
		MeasureDuration: time.Second,
	})
	require.NoError(t, err)

	var warm int
	for r.Phase() == PhaseWarmup {
		r.Record(tick(clock, 10*time.Millisecond))
		warm++
	}
	assert.Equal(t, 10, warm)

	var measured int
	for r.Phase() == PhaseMeasuring {
		r.Record(tick(clock, 10*time.Millisecond))
		measured++
	}
	assert.Equal(t, 100, measured)

	rep := r.Snapshot(Window{})
	assert.Equal(t, 100, rep.Count)
	assert.Equal(t, time.Second, rep.Elapsed)
	assert.InDelta(t, 100.0, rep.Throughput.ItemsPerSecond, 0.001)
	assert.InDelta(t, 102400.0, rep.Throughput.BytesPerSecond, 0.001)
}

func TestRecorder_NoWarmupStartsMeasuring(t *testing.T) {
	r, err := NewRecorder(WindowConfig{})
	require.NoError(t, err)
	assert.Equal(t, PhaseMeasuring, r.Phase())

	clock := clockz.NewFakeClock()
	for i := 0; i < 3000; i++ {
		require.Equal(t, PhaseMeasuring, r.Record(tick(clock, time.Microsecond)))
	}
	assert.Equal(t, int64(3000), r.Len())
}

func TestRecorder_Windows(t *testing.T) {
	clock := clockz.NewFakeClock()
	r, err := NewRecorder(WindowConfig{})
	require.NoError(t, err)

	for i := 1; i <= 2500; i++ {
		r.Record(tick(clock, time.Duration(i)*time.Microsecond))
	}

	last := r.Snapshot(Window{LastN: 10})
	assert.Equal(t, 10, last.Count)
	assert.Equal(t, 2491*time.Microsecond, last.Latency.Min)
	assert.Equal(t, 2500*time.Microsecond, last.Latency.Max)

	// Samples 2498..2500 end within 4999µs of the last end.
	recent := r.Samples(Window{Last: 2500*time.Microsecond + 2499*time.Microsecond})
	assert.Len(t, recent, 3)

	assert.Equal(t, 2500, r.Snapshot(Window{LastN: 1 << 20}).Count)
}

func TestRecorder_ForceDone(t *testing.T) {
	r, err := NewRecorder(WindowConfig{MeasureCount: 10})
	require.NoError(t, err)
	clock := clockz.NewFakeClock()
	r.Record(tick(clock, time.Millisecond))
	r.ForceDone()
	assert.Equal(t, PhaseDone, r.Record(tick(clock, time.Millisecond)))
	assert.Equal(t, int64(1), r.Len())
}

func TestRecorder_InvalidConfig(t *testing.T) {
	for _, cfg := range []WindowConfig{
		{WarmupCount: -1},
		{WarmupDuration: -time.Second},
		{MeasureCount: -5},
		{MeasureDuration: -time.Second},
	} {
		_, err := NewRecorder(cfg)
		assert.True(t, failure.IsConfiguration(err), "%+v", cfg)
	}
}

func TestRecorder_ConcurrentReadersSeeConsistentPrefix(t *testing.T) {
	r, err := NewRecorder(WindowConfig{MeasureCount: 20000})
	require.NoError(t, err)

	base := time.Unix(0, 0)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				samples := r.Samples(Window{})
				for j, s := range samples {
					if s.Bytes != int64(j+1) {
						t.Errorf("sample %d has bytes %d", j, s.Bytes)
						return
					}
				}
				_ = r.Snapshot(Window{LastN: 100})
			}
		}()
	}

	for i := 1; i <= 20000; i++ {
		start := base.Add(time.Duration(i) * time.Microsecond)
		r.Record(Sample{Start: start, End: start.Add(time.Microsecond), Bytes: int64(i)})
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, PhaseDone, r.Phase())
	assert.Equal(t, 20000, r.Snapshot(Window{}).Count)
}

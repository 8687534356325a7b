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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplesAt(start time.Time, heaps ...uint64) []RuntimeSample {
	out := make([]RuntimeSample, len(heaps))
	for i, h := range heaps {
		out[i] = RuntimeSample{At: start.Add(time.Duration(i) * time.Second), HeapAlloc: h}
	}
	return out
}

func TestHeapSlope(t *testing.T) {
	start := time.Unix(1000, 0)

	tests := []struct {
		name    string
		samples []RuntimeSample
		want    float64
	}{
		{"empty", nil, 0},
		{"single", samplesAt(start, 100), 0},
		{"flat", samplesAt(start, 500, 500, 500, 500), 0},
		{"growing", samplesAt(start, 0, 1000, 2000, 3000), 1000},
		{"shrinking", samplesAt(start, 3000, 2000, 1000), -1000},
		{"same timestamp", []RuntimeSample{{At: start, HeapAlloc: 1}, {At: start, HeapAlloc: 9}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HeapSlope(tt.samples), 1e-6)
		})
	}
}

func TestTracker_EvictsOldest(t *testing.T) {
	tracker := NewTracker(3)
	for _, s := range samplesAt(time.Unix(0, 0), 1, 2, 3, 4, 5) {
		tracker.Add(s)
	}

	got := tracker.Samples()
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].HeapAlloc)
	assert.Equal(t, uint64(5), got[2].HeapAlloc)

	latest, ok := tracker.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.HeapAlloc)
}

func TestTracker_Steady(t *testing.T) {
	tracker := NewTracker(0)
	_, ok := tracker.Latest()
	assert.False(t, ok)

	for _, s := range samplesAt(time.Unix(0, 0), 100, 100, 101, 100) {
		tracker.Add(s)
	}
	assert.True(t, tracker.Steady(64))

	for _, s := range samplesAt(time.Unix(10, 0), 1<<20, 2<<20, 3<<20) {
		tracker.Add(s)
	}
	assert.False(t, tracker.Steady(64))
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	tracker := NewTracker(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx, nil, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(tracker.Samples()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryDelta(t *testing.T) {
	before := RuntimeSample{HeapAlloc: 1000, TotalAlloc: 5000, Mallocs: 10, NumGC: 2, PauseTotal: time.Millisecond}
	after := RuntimeSample{HeapAlloc: 400, TotalAlloc: 9000, Mallocs: 25, NumGC: 5, PauseTotal: 3 * time.Millisecond}

	got := MemoryDelta(before, after)
	assert.Equal(t, int64(-600), got.HeapAllocDelta)
	assert.Equal(t, uint64(4000), got.AllocBytes)
	assert.Equal(t, uint64(15), got.AllocObjects)
	assert.Equal(t, uint32(3), got.GCCycles)
	assert.Equal(t, 2*time.Millisecond, got.GCPauseTotal)
}

func TestReadRuntime(t *testing.T) {
	rs := ReadRuntime()
	assert.NotZero(t, rs.HeapAlloc)
	assert.NotZero(t, rs.Sys)
	assert.GreaterOrEqual(t, rs.Goroutines, 1)
}

func TestSampler_FillsRSS(t *testing.T) {
	sampler, err := NewSampler()
	if err != nil {
		t.Skipf("process handle unavailable: %v", err)
	}
	rs := sampler.Sample(context.Background())
	assert.NotZero(t, rs.HeapAlloc)
}

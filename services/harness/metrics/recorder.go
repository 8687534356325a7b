// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics records timed samples and aggregates them into reports.
//
// # Overview
//
// A Recorder has exactly one writer (the runner's producer goroutine) and
// any number of readers (periodic reporters, HTTP handlers, the runner's
// final report). Samples are appended to a chunked log whose length is
// published atomically; a reader sees a consistent prefix without ever
// taking a lock the writer waits on.
//
//	writer ──Record──▶ [chunk 0][chunk 1][chunk 2 ...]   n (atomic)
//	                         ▲
//	reader ──Snapshot───────┘ reads samples [0, n)
//
// Warm-up samples are counted and discarded before the log starts. The
// measurement target (a count, a duration, or both) is reported back to the
// writer through the Phase returned by Record.
package metrics

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

// chunkSize is the number of samples per log chunk.
const chunkSize = 1024

type chunk [chunkSize]Sample

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// WindowConfig sets the warm-up and measurement lengths.
//
// Warm-up ends when every configured warm-up bound is reached; with none
// configured, measurement starts with the first sample. Measurement ends
// when any configured measurement bound is reached; with none configured
// it is open-ended.
type WindowConfig struct {
	WarmupCount     int64
	WarmupDuration  time.Duration
	MeasureCount    int64
	MeasureDuration time.Duration
}

// Validate rejects negative lengths.
func (c WindowConfig) Validate() error {
	if c.WarmupCount < 0 {
		return failure.Invalid("warmup_count", c.WarmupCount, "must be non-negative")
	}
	if c.WarmupDuration < 0 {
		return failure.Invalid("warmup_duration", c.WarmupDuration, "must be non-negative")
	}
	if c.MeasureCount < 0 {
		return failure.Invalid("measure_count", c.MeasureCount, "must be non-negative")
	}
	if c.MeasureDuration < 0 {
		return failure.Invalid("measure_duration", c.MeasureDuration, "must be non-negative")
	}
	return nil
}

// Window selects the samples a snapshot covers. The zero Window covers the
// whole measurement log. LastN takes precedence over Last.
type Window struct {
	LastN int
	Last  time.Duration
}

// -----------------------------------------------------------------------------
// Recorder
// -----------------------------------------------------------------------------

// Recorder is a single-writer, multi-reader sample log.
//
// Thread Safety: Record must only be called from one goroutine. Snapshot,
// Latencies, Len, Phase and WarmupDiscarded are safe from any goroutine
// and never block the writer.
type Recorder struct {
	cfg WindowConfig

	// writer-owned
	wchunks     []*chunk
	count       int64
	warmupSeen  int64
	warmupStart time.Time
	measureFrom time.Time

	// published
	chunks   atomic.Pointer[[]*chunk]
	n        atomic.Int64
	phase    atomic.Int32
	warmDrop atomic.Int64
}

// NewRecorder validates cfg and returns an empty recorder.
func NewRecorder(cfg WindowConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{cfg: cfg}
	empty := []*chunk{}
	r.chunks.Store(&empty)
	if cfg.WarmupCount == 0 && cfg.WarmupDuration == 0 {
		r.phase.Store(int32(PhaseMeasuring))
	}
	return r, nil
}

// Record consumes one sample and returns the phase after it.
//
// Description:
//
//	During warm-up the sample is discarded; the sample that satisfies the
//	warm-up bound is itself discarded and the returned phase becomes
//	PhaseMeasuring. During measurement the sample is appended; the sample
//	that satisfies the measurement bound is kept and the returned phase
//	becomes PhaseDone. After PhaseDone samples are ignored.
func (r *Recorder) Record(s Sample) Phase {
	switch Phase(r.phase.Load()) {
	case PhaseWarmup:
		if r.warmupSeen == 0 {
			r.warmupStart = s.Start
		}
		r.warmupSeen++
		r.warmDrop.Store(r.warmupSeen)
		if r.warmupReached(s) {
			r.phase.Store(int32(PhaseMeasuring))
		}

	case PhaseMeasuring:
		if r.count == 0 {
			r.measureFrom = s.Start
		}
		r.append(s)
		if r.measureReached(s) {
			r.phase.Store(int32(PhaseDone))
		}
	}
	return Phase(r.phase.Load())
}

func (r *Recorder) warmupReached(s Sample) bool {
	if r.cfg.WarmupCount > 0 && r.warmupSeen < r.cfg.WarmupCount {
		return false
	}
	if r.cfg.WarmupDuration > 0 && s.End.Sub(r.warmupStart) < r.cfg.WarmupDuration {
		return false
	}
	return true
}

func (r *Recorder) measureReached(s Sample) bool {
	if r.cfg.MeasureCount > 0 && r.count >= r.cfg.MeasureCount {
		return true
	}
	return r.cfg.MeasureDuration > 0 && s.End.Sub(r.measureFrom) >= r.cfg.MeasureDuration
}

func (r *Recorder) append(s Sample) {
	ci, off := r.count/chunkSize, r.count%chunkSize
	if int(ci) == len(r.wchunks) {
		// Never grow in place: readers may hold the previous slice header.
		next := append(slices.Clip(r.wchunks), new(chunk))
		r.wchunks = next
		r.chunks.Store(&next)
	}
	r.wchunks[ci][off] = s
	r.count++
	r.n.Store(r.count)
}

// ForceDone stops measurement. Subsequent samples are ignored.
func (r *Recorder) ForceDone() {
	r.phase.Store(int32(PhaseDone))
}

// Len returns the number of measured samples.
func (r *Recorder) Len() int64 { return r.n.Load() }

// Phase returns the current phase.
func (r *Recorder) Phase() Phase { return Phase(r.phase.Load()) }

// WarmupDiscarded returns the number of warm-up samples dropped.
func (r *Recorder) WarmupDiscarded() int64 { return r.warmDrop.Load() }

// Samples returns a copy of the samples selected by w, oldest first.
func (r *Recorder) Samples(w Window) []Sample {
	n := r.n.Load()
	list := *r.chunks.Load()

	start := int64(0)
	if w.LastN > 0 && int64(w.LastN) < n {
		start = n - int64(w.LastN)
	}

	out := make([]Sample, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, list[i/chunkSize][i%chunkSize])
	}

	if w.LastN == 0 && w.Last > 0 && len(out) > 0 {
		cutoff := out[len(out)-1].End.Add(-w.Last)
		idx, _ := slices.BinarySearchFunc(out, cutoff, func(s Sample, t time.Time) int {
			return s.End.Compare(t)
		})
		out = out[idx:]
	}
	return out
}

// Latencies returns the latencies of the samples selected by w.
func (r *Recorder) Latencies(w Window) []time.Duration {
	samples := r.Samples(w)
	out := make([]time.Duration, len(samples))
	for i, s := range samples {
		out[i] = s.Latency()
	}
	return out
}

// Snapshot summarises the samples selected by w.
func (r *Recorder) Snapshot(w Window) Report {
	rep := Summarize(r.Samples(w))
	rep.WarmupDiscarded = r.warmDrop.Load()
	return rep
}

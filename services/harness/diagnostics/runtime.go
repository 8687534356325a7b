// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics observes the process from outside the measurement path.
//
// # Overview
//
//   - ReadRuntime and Sampler take heap and RSS readings.
//   - Tracker keeps a bounded history of readings and fits a heap trend,
//     which is how a fixed scenario is shown to have steady residency.
//   - HeapCapture writes heap profiles or full heap dumps on request.
//   - TriggerWatcher requests a capture when a trigger file appears.
//
// None of these run on a runner's producer goroutine.
package diagnostics

import (
	"runtime"
	"time"
)

// RuntimeSample is one reading of process memory.
type RuntimeSample struct {
	At          time.Time     `json:"at"`
	HeapAlloc   uint64        `json:"heap_alloc"`
	HeapInuse   uint64        `json:"heap_inuse"`
	HeapObjects uint64        `json:"heap_objects"`
	TotalAlloc  uint64        `json:"total_alloc"`
	Mallocs     uint64        `json:"mallocs"`
	Frees       uint64        `json:"frees"`
	Sys         uint64        `json:"sys"`
	NumGC       uint32        `json:"num_gc"`
	PauseTotal  time.Duration `json:"pause_total"`
	Goroutines  int           `json:"goroutines"`

	// RSS and CPUPercent are filled by Sampler only.
	RSS        uint64  `json:"rss,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

// ReadRuntime reads runtime.MemStats. It stops the world briefly and must
// not be called between samples of a measurement.
func ReadRuntime() RuntimeSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeSample{
		At:          time.Now(),
		HeapAlloc:   ms.HeapAlloc,
		HeapInuse:   ms.HeapInuse,
		HeapObjects: ms.HeapObjects,
		TotalAlloc:  ms.TotalAlloc,
		Mallocs:     ms.Mallocs,
		Frees:       ms.Frees,
		Sys:         ms.Sys,
		NumGC:       ms.NumGC,
		PauseTotal:  time.Duration(ms.PauseTotalNs),
		Goroutines:  runtime.NumGoroutine(),
	}
}

// MemoryStats holds memory usage over an interval.
//
// Description:
//
//	MemoryStats captures heap allocation changes and collector activity
//	between two RuntimeSamples. It is attached to every run result.
//
// Thread Safety: Safe for concurrent read access after creation.
type MemoryStats struct {
	// HeapAllocBefore is the live heap at the start of the interval.
	HeapAllocBefore uint64 `json:"heap_alloc_before"`

	// HeapAllocAfter is the live heap at the end of the interval.
	HeapAllocAfter uint64 `json:"heap_alloc_after"`

	// HeapAllocDelta is HeapAllocAfter - HeapAllocBefore.
	HeapAllocDelta int64 `json:"heap_alloc_delta"`

	// AllocBytes is the cumulative bytes allocated during the interval.
	AllocBytes uint64 `json:"alloc_bytes"`

	// AllocObjects is the cumulative objects allocated during the interval.
	AllocObjects uint64 `json:"alloc_objects"`

	// GCCycles is the number of completed collections.
	GCCycles uint32 `json:"gc_cycles"`

	// GCPauseTotal is the stop-the-world time spent in the interval.
	GCPauseTotal time.Duration `json:"gc_pause_total"`
}

// MemoryDelta computes MemoryStats between two readings.
func MemoryDelta(before, after RuntimeSample) MemoryStats {
	return MemoryStats{
		HeapAllocBefore: before.HeapAlloc,
		HeapAllocAfter:  after.HeapAlloc,
		HeapAllocDelta:  int64(after.HeapAlloc) - int64(before.HeapAlloc),
		AllocBytes:      after.TotalAlloc - before.TotalAlloc,
		AllocObjects:    after.Mallocs - before.Mallocs,
		GCCycles:        after.NumGC - before.NumGC,
		GCPauseTotal:    after.PauseTotal - before.PauseTotal,
	}
}

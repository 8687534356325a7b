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
	"slices"
	"time"
)

const (
	// SlowThreshold marks a sample as high latency.
	SlowThreshold = time.Millisecond

	// PauseThreshold marks a sample as a suspected collector pause.
	PauseThreshold = 10 * time.Millisecond
)

// -----------------------------------------------------------------------------
// Report
// -----------------------------------------------------------------------------

// ThroughputStats holds rate statistics over the report window.
type ThroughputStats struct {
	// ItemsPerSecond is Items divided by the window span.
	ItemsPerSecond float64 `json:"items_per_second"`

	// BytesPerSecond is the allocation rate over the window span.
	BytesPerSecond float64 `json:"bytes_per_second"`
}

// Report aggregates a window of samples.
//
// Description:
//
//	A Report is a value: once returned by Summarize or Snapshot nothing
//	modifies it. Statistics depend only on the multiset of samples in the
//	window, never on the order they were recorded in.
//
// Thread Safety: Safe for concurrent read access after creation.
type Report struct {
	// Count is the number of samples in the window.
	Count int `json:"count"`

	// Items is the number of work items processed across the window. A
	// batched sample contributes its whole batch.
	Items int64 `json:"items"`

	// Successes and Failures split Count by outcome.
	Successes int `json:"successes"`
	Failures  int `json:"failures"`

	// Latency summarises sample latencies. Zero when Count is zero.
	Latency LatencyStats `json:"latency"`

	// MeanLower and MeanUpper bound the 95% confidence interval of the mean.
	MeanLower time.Duration `json:"mean_ci_lower"`
	MeanUpper time.Duration `json:"mean_ci_upper"`

	// Throughput holds item and byte rates.
	Throughput ThroughputStats `json:"throughput"`

	// Bytes is the total allocated by samples in the window.
	Bytes int64 `json:"bytes"`

	// SlowCount counts samples above SlowThreshold.
	SlowCount int `json:"slow_count"`

	// PauseSuspects counts samples above PauseThreshold.
	PauseSuspects int `json:"pause_suspects"`

	// WindowStart is the earliest sample start; WindowEnd the latest end.
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Elapsed     time.Duration `json:"elapsed"`

	// WarmupDiscarded is the number of warm-up samples dropped before the
	// window began.
	WarmupDiscarded int64 `json:"warmup_discarded"`

	// Incomplete is set when the run stopped before its measurement target.
	Incomplete bool   `json:"incomplete"`
	Reason     string `json:"reason,omitempty"`
}

// FailureRate returns Failures / Count, or 0 for an empty report.
func (r Report) FailureRate() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Failures) / float64(r.Count)
}

// MarkIncomplete returns a copy of r flagged incomplete with reason.
func (r Report) MarkIncomplete(reason string) Report {
	r.Incomplete = true
	r.Reason = reason
	return r
}

// Summarize builds a Report from samples.
//
// Description:
//
//	Throughput is the summed item count divided by the span from the earliest Start to the
//	latest End. Percentiles use the nearest-rank method. An empty input
//	yields a zero Report with no error.
//
// Inputs:
//   - samples: Window samples in any order. Not modified.
//
// Outputs:
//   - Report: Aggregated statistics.
func Summarize(samples []Sample) Report {
	var r Report
	if len(samples) == 0 {
		return r
	}

	latencies := make([]time.Duration, len(samples))
	r.WindowStart = samples[0].Start
	r.WindowEnd = samples[0].End
	for i, s := range samples {
		latencies[i] = s.Latency()
		r.Bytes += s.Bytes
		r.Items += int64(s.ItemCount())
		if s.Outcome == OutcomeFailure {
			r.Failures++
		} else {
			r.Successes++
		}
		if s.Start.Before(r.WindowStart) {
			r.WindowStart = s.Start
		}
		if s.End.After(r.WindowEnd) {
			r.WindowEnd = s.End
		}
	}
	r.Count = len(samples)
	slices.Sort(latencies)

	// Error is impossible for a non-empty slice.
	r.Latency, _ = CalculateLatencyStats(latencies)
	r.MeanLower, r.MeanUpper = ConfidenceInterval(latencies, 0.95)
	r.SlowCount = CountAbove(latencies, SlowThreshold)
	r.PauseSuspects = CountAbove(latencies, PauseThreshold)

	r.Elapsed = r.WindowEnd.Sub(r.WindowStart)
	if secs := r.Elapsed.Seconds(); secs > 0 {
		r.Throughput.ItemsPerSecond = float64(r.Items) / secs
		r.Throughput.BytesPerSecond = float64(r.Bytes) / secs
	}
	return r
}

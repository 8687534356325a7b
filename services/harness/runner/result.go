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
	"time"

	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/retention"
)

// Result holds the outcome of one run.
//
// Description:
//
//	Result pairs the steady-state Report with the run identity, the memory
//	delta across the whole run (warm-up included) and the final retention
//	counters. It is the unit stored by the report store and compared by
//	the regression detector.
//
// Thread Safety: Safe for concurrent read access after creation.
type Result struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Kind is the driving discipline.
	Kind Kind `json:"kind"`

	// State is always StateCompleted for a returned Result.
	State State `json:"state"`

	// StartedAt is when Run began; Duration spans warm-up and measurement.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Seed, ItemSize and LeakMode echo the configuration.
	Seed     uint64 `json:"seed"`
	ItemSize string `json:"item_size"`
	LeakMode bool   `json:"leak_mode"`

	// GoVersion is runtime.Version() of the process that ran the workload.
	GoVersion string `json:"go_version,omitempty"`

	// Report is the steady-state report.
	Report metrics.Report `json:"report"`

	// Memory is the heap and collector delta across the run.
	Memory diagnostics.MemoryStats `json:"memory"`

	// Retention is the controller state at completion.
	Retention retention.Stats `json:"retention"`

	// Failure describes the internal failure that ended the run, if any.
	Failure string `json:"failure,omitempty"`

	// Latencies holds the raw measured latencies when KeepLatencies is set.
	Latencies []time.Duration `json:"latencies,omitempty"`
}

// Incomplete reports whether the run stopped before its measurement bound.
func (r *Result) Incomplete() bool {
	return r.Report.Incomplete
}

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
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoSamples indicates that no samples were collected.
	ErrNoSamples = errors.New("no samples collected")
)

// -----------------------------------------------------------------------------
// Sample
// -----------------------------------------------------------------------------

// Outcome is the result of processing one work item.
type Outcome int

const (
	// OutcomeSuccess marks a processed item.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure marks an item whose processing failed.
	OutcomeFailure
)

// String returns "success" or "failure".
func (o Outcome) String() string {
	if o == OutcomeFailure {
		return "failure"
	}
	return "success"
}

// Sample is one timed operation. It is a value type; once passed to
// Recorder.Record it is never modified.
type Sample struct {
	// Start is when processing began.
	Start time.Time

	// End is when processing finished.
	End time.Time

	// Bytes is the number of bytes allocated by the operation.
	Bytes int64

	// Items is the number of work items the operation processed. Zero is
	// read as one.
	Items int

	// Outcome reports success or failure.
	Outcome Outcome
}

// ItemCount returns Items, or 1 when Items is unset.
func (s Sample) ItemCount() int {
	if s.Items <= 0 {
		return 1
	}
	return s.Items
}

// Latency returns End - Start.
func (s Sample) Latency() time.Duration {
	return s.End.Sub(s.Start)
}

// Phase is the recorder's position in its measurement window.
type Phase int32

const (
	// PhaseWarmup means samples are being counted and discarded.
	PhaseWarmup Phase = iota

	// PhaseMeasuring means samples are being kept.
	PhaseMeasuring

	// PhaseDone means the measurement target was reached. Further samples
	// are ignored.
	PhaseDone
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseMeasuring:
		return "measuring"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

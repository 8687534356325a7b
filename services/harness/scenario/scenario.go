// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario runs long-lived leak demonstrations.
//
// Each scenario comes as a pair selected by retention.Mode:
//
//   - Session: a process-wide session collection. The leak variant keeps
//     every session; the fixed variant caps the collection and expires
//     sessions older than a TTL.
//   - Listener: processors register with an event registry. The leak
//     variant never unregisters; the fixed variant unregisters every
//     processor after its event is published.
//
// A Driver ticks a Scenario at a configured rate until it is cancelled,
// reaches a tick limit, or exceeds a heap budget. Exceeding the budget is
// the expected end of a leak variant and is reported as a
// *failure.ExhaustionError.
//
// Retained structures are named "<scenario>-<mode>" (for example
// "session-leak") in stats, logs and metrics, so heap captures taken from
// outside can be matched to the scenario that produced them.
package scenario

import (
	"fmt"

	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/retention"
)

// Scenario is one unit of simulated application work, repeated by a
// Driver.
//
// Tick and Sweep are called from the driver goroutine only. Retained and
// Stats are safe from any goroutine.
type Scenario interface {
	// Name returns the retention set name, e.g. "listener-fixed".
	Name() string

	// Tick performs one unit of work.
	Tick() error

	// Retained returns the number of strongly held units.
	Retained() int

	// Sweep runs periodic maintenance and returns the units removed.
	Sweep() int

	// Stats returns counters for status reporting.
	Stats() Stats
}

// Stats is a point-in-time view of a Scenario.
type Stats struct {
	Name     string `json:"name"`
	Mode     string `json:"mode"`
	Ticks    uint64 `json:"ticks"`
	Retained int    `json:"retained"`
	Capacity int    `json:"capacity,omitempty"`
	Removed  uint64 `json:"removed"`
	Bytes    uint64 `json:"bytes_allocated"`
}

// Kind names a scenario family.
type Kind string

const (
	// KindSession is the static-collection leak.
	KindSession Kind = "session"

	// KindListener is the listener-registration leak.
	KindListener Kind = "listener"
)

// ParseKind parses a scenario family name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSession, KindListener:
		return Kind(s), nil
	default:
		return "", failure.Invalid("scenario", s, "must be session or listener")
	}
}

func scenarioName(kind Kind, mode retention.Mode) string {
	return fmt.Sprintf("%s-%s", kind, mode)
}

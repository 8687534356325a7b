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

import "fmt"

// State is the lifecycle state of a Runner.
type State int32

const (
	// StateIdle is a constructed Runner that has not started.
	StateIdle State = iota

	// StateWarmingUp discards samples until the warm-up bound is reached.
	StateWarmingUp

	// StateMeasuring records steady-state samples.
	StateMeasuring

	// StateCompleted is terminal.
	StateCompleted
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmingUp:
		return "warming_up"
	case StateMeasuring:
		return "measuring"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateIdle, StateWarmingUp, StateMeasuring, StateCompleted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Observer is notified of state transitions.
//
// OnStateChange runs on the producer goroutine and must not block.
type Observer interface {
	OnStateChange(runID string, kind Kind, from, to State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(runID string, kind Kind, from, to State)

// OnStateChange calls f.
func (f ObserverFunc) OnStateChange(runID string, kind Kind, from, to State) {
	f(runID, kind, from, to)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

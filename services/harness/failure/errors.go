// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package failure defines the error taxonomy shared by the harness packages.
//
// Three kinds of outcome are distinguished:
//
//   - Configuration errors are raised before any work starts. No partial
//     state is produced. Match with errors.Is(err, ErrConfiguration) or
//     errors.As into *ConfigurationError.
//   - Resource exhaustion is the expected end of a leak scenario. It is
//     reported, propagated to the process boundary and never retried.
//   - Cancellation is not an error. Runners return a partial report flagged
//     incomplete; ErrCancelled only labels the reason.
//
// Internal failures (malformed items, generator exhaustion) terminate a run
// with an incomplete report and are logged.
package failure

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrResourceExhaustion indicates the memory budget was exceeded.
	ErrResourceExhaustion = errors.New("resource exhaustion")

	// ErrCancelled labels a run stopped by its context.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout labels a run stopped by its measurement timeout.
	ErrTimeout = errors.New("measurement timeout")

	// ErrGeneratorExhausted indicates the generator reached its item limit.
	ErrGeneratorExhausted = errors.New("generator exhausted")

	// ErrMalformedItem indicates a work item failed its integrity check.
	ErrMalformedItem = errors.New("malformed work item")
)

// -----------------------------------------------------------------------------
// ConfigurationError
// -----------------------------------------------------------------------------

// ConfigurationError describes a rejected configuration field.
//
// Description:
//
//	Returned by every constructor and Validate method in the harness when a
//	launch parameter is out of range or unrecognised. Field uses the YAML
//	key name so the message points at the offending line of a config file.
//
// Example:
//
//	_, err := workload.NewGenerator(cfg)
//	var cerr *failure.ConfigurationError
//	if errors.As(err, &cerr) {
//	    fmt.Println(cerr.Field) // "item_size"
//	}
type ConfigurationError struct {
	// Field is the configuration key that failed.
	Field string

	// Value is the rejected value, rendered for display.
	Value any

	// Reason explains the constraint that was violated.
	Reason string

	// Err is an optional underlying cause (e.g. a parse error).
	Err error
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid configuration: %s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Invalid is shorthand for constructing a *ConfigurationError.
func Invalid(field string, value any, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsResourceExhaustion reports whether err signals an exceeded memory budget.
func IsResourceExhaustion(err error) bool {
	return errors.Is(err, ErrResourceExhaustion)
}

// ExhaustionError carries the residency figures observed when a budget was
// exceeded. It matches ErrResourceExhaustion.
type ExhaustionError struct {
	// Scenario is the name of the scenario that was running.
	Scenario string

	// HeapBytes is the live heap at detection time.
	HeapBytes uint64

	// BudgetBytes is the configured budget.
	BudgetBytes uint64

	// Ticks is the number of ticks completed before detection.
	Ticks int64
}

// Error implements error.
func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("resource exhaustion: scenario %s heap %d bytes exceeds budget %d bytes after %d ticks",
		e.Scenario, e.HeapBytes, e.BudgetBytes, e.Ticks)
}

// Is reports whether target is ErrResourceExhaustion.
func (e *ExhaustionError) Is(target error) bool {
	return target == ErrResourceExhaustion
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

// Process exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitConfig     = 2
	exitExhausted  = 3
	exitRegression = 4
)

// errRegression is returned when a comparison against the baseline fails.
var errRegression = errors.New("regression against baseline")

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errRegression):
		return exitRegression
	case failure.IsResourceExhaustion(err):
		return exitExhausted
	case failure.IsConfiguration(err):
		return exitConfig
	default:
		return exitError
	}
}

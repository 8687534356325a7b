// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package failure

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationError(t *testing.T) {
	t.Run("matches sentinel through wrapping", func(t *testing.T) {
		err := fmt.Errorf("load: %w", Invalid("capacity", -1, "must be positive or unbounded"))
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.True(t, IsConfiguration(err))
		assert.False(t, IsResourceExhaustion(err))

		var cerr *ConfigurationError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "capacity", cerr.Field)
	})

	t.Run("message includes value and reason", func(t *testing.T) {
		err := Invalid("seed", "abc", "not an integer")
		assert.Equal(t, "invalid configuration: seed=abc: not an integer", err.Error())
	})

	t.Run("unwraps cause", func(t *testing.T) {
		_, cause := strconv.Atoi("x")
		err := &ConfigurationError{Field: "warmup_count", Err: cause}
		assert.True(t, errors.Is(err, strconv.ErrSyntax))
		assert.Contains(t, err.Error(), "warmup_count")
	})
}

func TestExhaustionError(t *testing.T) {
	err := fmt.Errorf("scenario: %w", &ExhaustionError{
		Scenario:    "sessions-leak",
		HeapBytes:   2048,
		BudgetBytes: 1024,
		Ticks:       7,
	})

	assert.True(t, IsResourceExhaustion(err))
	assert.False(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "sessions-leak")
	assert.Contains(t, err.Error(), "after 7 ticks")
}

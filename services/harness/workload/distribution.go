// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workload

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

// exponentialClip bounds exponential draws at this multiple of the mean.
const exponentialClip = 10

// Distribution selects how item sizes are drawn.
type Distribution int

const (
	// DistFixed always yields SizeSpec.Bytes.
	DistFixed Distribution = iota

	// DistUniform yields sizes uniformly in [Min, Max].
	DistUniform

	// DistExponential yields exponentially distributed sizes with mean
	// SizeSpec.Bytes, clipped to ten times the mean.
	DistExponential
)

// String returns the configuration name of the distribution.
func (d Distribution) String() string {
	switch d {
	case DistFixed:
		return "fixed"
	case DistUniform:
		return "uniform"
	case DistExponential:
		return "exponential"
	default:
		return fmt.Sprintf("Distribution(%d)", int(d))
	}
}

// SizeSpec describes an item size distribution.
type SizeSpec struct {
	// Kind selects the distribution.
	Kind Distribution

	// Bytes is the fixed size or the exponential mean.
	Bytes int

	// Min and Max bound the uniform distribution (inclusive).
	Min int
	Max int
}

// Fixed returns a spec that always yields n bytes.
func Fixed(n int) SizeSpec {
	return SizeSpec{Kind: DistFixed, Bytes: n}
}

// Uniform returns a spec drawing uniformly from [minBytes, maxBytes].
func Uniform(minBytes, maxBytes int) SizeSpec {
	return SizeSpec{Kind: DistUniform, Min: minBytes, Max: maxBytes}
}

// Exponential returns a spec with the given mean.
func Exponential(mean int) SizeSpec {
	return SizeSpec{Kind: DistExponential, Bytes: mean}
}

// String renders the size spec in the form accepted by ParseSizeSpec.
func (s SizeSpec) String() string {
	switch s.Kind {
	case DistFixed:
		return fmt.Sprintf("fixed(%d)", s.Bytes)
	case DistUniform:
		return fmt.Sprintf("uniform(%d,%d)", s.Min, s.Max)
	case DistExponential:
		return fmt.Sprintf("exponential(%d)", s.Bytes)
	default:
		return s.Kind.String()
	}
}

// Mean returns the expected item size in bytes.
func (s SizeSpec) Mean() float64 {
	switch s.Kind {
	case DistUniform:
		return float64(s.Min+s.Max) / 2
	default:
		return float64(s.Bytes)
	}
}

// Validate rejects non-positive sizes, inverted ranges and unknown kinds.
func (s SizeSpec) Validate() error {
	switch s.Kind {
	case DistFixed, DistExponential:
		if s.Bytes <= 0 {
			return failure.Invalid("item_size", s.String(), "size must be positive")
		}
	case DistUniform:
		if s.Min <= 0 {
			return failure.Invalid("item_size", s.String(), "minimum size must be positive")
		}
		if s.Max < s.Min {
			return failure.Invalid("item_size", s.String(), "maximum is below minimum")
		}
	default:
		return failure.Invalid("item_size", int(s.Kind), "unknown distribution")
	}
	return nil
}

// draw returns the next size. The size spec must already be valid.
func (s SizeSpec) draw(rng *rand.Rand) int {
	switch s.Kind {
	case DistUniform:
		return s.Min + rng.IntN(s.Max-s.Min+1)
	case DistExponential:
		mean := float64(s.Bytes)
		v := rng.ExpFloat64() * mean
		if v > exponentialClip*mean {
			v = exponentialClip * mean
		}
		if v < 1 {
			return 1
		}
		return int(v)
	default:
		return s.Bytes
	}
}

// ParseSizeSpec parses "fixed(N)", "uniform(MIN,MAX)", "exponential(MEAN)"
// or a bare integer, which is read as fixed(N).
//
// Example:
//
//	spec, err := ParseSizeSpec("uniform(512, 4096)")
func ParseSizeSpec(raw string) (SizeSpec, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(text); err == nil {
		spec := Fixed(n)
		return spec, spec.Validate()
	}

	open := strings.IndexByte(text, '(')
	if open <= 0 || !strings.HasSuffix(text, ")") {
		return SizeSpec{}, failure.Invalid("item_size", raw, "expected kind(args), e.g. fixed(1024)")
	}
	kind := strings.TrimSpace(text[:open])
	parts := strings.Split(text[open+1:len(text)-1], ",")
	args := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return SizeSpec{}, &failure.ConfigurationError{Field: "item_size", Value: raw, Reason: "non-integer argument", Err: err}
		}
		args = append(args, n)
	}

	var spec SizeSpec
	switch {
	case kind == "fixed" && len(args) == 1:
		spec = Fixed(args[0])
	case kind == "uniform" && len(args) == 2:
		spec = Uniform(args[0], args[1])
	case (kind == "exponential" || kind == "exp") && len(args) == 1:
		spec = Exponential(args[0])
	default:
		return SizeSpec{}, failure.Invalid("item_size", raw, "unknown distribution or wrong argument count")
	}
	return spec, spec.Validate()
}

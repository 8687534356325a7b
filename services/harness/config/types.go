// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// =============================================================================
// Scalar Types
// =============================================================================
//
// The launch bundle uses compact scalar forms: "fixed(1024)", "unbounded",
// "30s", "on". Each type below parses one of them from a string, from a
// YAML scalar, and from a command-line flag value.

// SizeValue is an item size distribution written as "fixed(1024)",
// "uniform(512,4096)", "exponential(1024)" or a bare byte count. The zero
// value means "use the workload default".
type SizeValue struct {
	workload.SizeSpec
	set bool
}

// NewSizeValue wraps spec.
func NewSizeValue(spec workload.SizeSpec) SizeValue {
	return SizeValue{SizeSpec: spec, set: true}
}

// IsZero reports whether no size was configured.
func (v SizeValue) IsZero() bool { return !v.set }

// Set parses s into v.
func (v *SizeValue) Set(s string) error {
	spec, err := workload.ParseSizeSpec(s)
	if err != nil {
		return err
	}
	*v = NewSizeValue(spec)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *SizeValue) UnmarshalYAML(node *yaml.Node) error {
	return v.Set(node.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (v SizeValue) MarshalYAML() (any, error) {
	if !v.set {
		return nil, nil
	}
	return v.SizeSpec.String(), nil
}

// Capacity is a retention bound: a positive integer or "unbounded".
type Capacity int

// ParseCapacity parses an integer or "unbounded".
func ParseCapacity(s string) (Capacity, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unbounded") {
		return Capacity(retention.Unbounded), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, failure.Invalid("capacity", s, "must be a non-negative integer or \"unbounded\"")
	}
	return Capacity(n), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Capacity) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseCapacity(node.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Capacity) MarshalYAML() (any, error) {
	if c == Capacity(retention.Unbounded) {
		return "unbounded", nil
	}
	return int(c), nil
}

// String returns the YAML form.
func (c Capacity) String() string {
	if c == Capacity(retention.Unbounded) {
		return "unbounded"
	}
	return strconv.Itoa(int(c))
}

// Measure is a measurement length: a sample count or a duration.
type Measure struct {
	Count    int64
	Duration time.Duration
}

// ParseMeasure parses "10000" as a count and "30s" as a duration.
func ParseMeasure(s string) (Measure, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return Measure{}, failure.Invalid("measure_count", s, "must be non-negative")
		}
		return Measure{Count: n}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return Measure{}, failure.Invalid("measure_count", s, "must be a count or a duration such as 30s")
	}
	return Measure{Duration: d}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Measure) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseMeasure(node.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m Measure) MarshalYAML() (any, error) {
	if m.Duration > 0 {
		return m.Duration.String(), nil
	}
	return m.Count, nil
}

// String returns the YAML form.
func (m Measure) String() string {
	if m.Duration > 0 {
		return m.Duration.String()
	}
	return strconv.FormatInt(m.Count, 10)
}

// Duration is a time.Duration written as "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return failure.Invalid("duration", node.Value, "not a duration such as 30s")
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Switch is a boolean that also accepts on/off and yes/no.
type Switch bool

// ParseSwitch parses on/off, yes/no, true/false and 1/0.
func ParseSwitch(s string) (Switch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0", "":
		return false, nil
	default:
		return false, failure.Invalid("switch", s, "must be on or off")
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Switch) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseSwitch(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Switch) MarshalYAML() (any, error) {
	if s {
		return "on", nil
	}
	return "off", nil
}

// ByteSize is a byte count written as "512MiB", "2GiB", "64k" or a bare
// number. Unit prefixes are binary.
type ByteSize uint64

var byteUnits = map[string]uint64{
	"":    1,
	"b":   1,
	"k":   1 << 10,
	"kb":  1 << 10,
	"kib": 1 << 10,
	"m":   1 << 20,
	"mb":  1 << 20,
	"mib": 1 << 20,
	"g":   1 << 30,
	"gb":  1 << 30,
	"gib": 1 << 30,
}

// ParseByteSize parses a byte count with an optional binary unit.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	num, unit := s, ""
	if i >= 0 {
		num, unit = s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	}
	n, err := strconv.ParseUint(num, 10, 64)
	mult, ok := byteUnits[unit]
	if err != nil || !ok {
		return 0, failure.Invalid("byte_size", s, "must be a number with an optional unit such as 512MiB")
	}
	if n > math.MaxUint64/mult {
		return 0, failure.Invalid("byte_size", s, "overflows 64 bits")
	}
	return ByteSize(n * mult), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// String formats b with the largest exact binary unit.
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0"
	case b%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", b>>30)
	case b%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", b>>20)
	case b%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", b>>10)
	default:
		return strconv.FormatUint(uint64(b), 10)
	}
}

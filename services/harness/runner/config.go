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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// -----------------------------------------------------------------------------
// Kind
// -----------------------------------------------------------------------------

// Kind selects the driving discipline.
type Kind int

const (
	// KindThroughput drives items back to back.
	KindThroughput Kind = iota

	// KindLatency drives paced batches and reports per-batch latency.
	KindLatency

	// KindMixed interleaves back-to-back and paced samples with bursts.
	KindMixed

	// KindAllocation drives large transient batches.
	KindAllocation
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{KindThroughput, KindLatency, KindMixed, KindAllocation}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindThroughput:
		return "throughput"
	case KindLatency:
		return "latency"
	case KindMixed:
		return "mixed"
	case KindAllocation:
		return "allocation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a workload kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(strings.TrimSpace(s), k.String()) {
			return k, nil
		}
	}
	return 0, failure.Invalid("workload_kind", s, "must be throughput, latency, mixed or allocation")
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config holds runner configuration.
//
// Description:
//
//	Config bundles the generator, retention and window settings with the
//	discipline parameters of the selected Kind. Use DefaultConfig(kind) and
//	override fields as needed. Fields that do not apply to Kind are
//	ignored.
//
// Thread Safety: Safe for concurrent read access after initialization.
type Config struct {
	// Kind selects the driving discipline.
	Kind Kind

	// Generator configures item sizes, seed and class mix.
	Generator workload.Config

	// Retention configures what happens to strong and weak items.
	Retention retention.Config

	// Window sets warm-up and measurement lengths.
	Window metrics.WindowConfig

	// Timeout bounds the Measuring phase. Zero means no timeout.
	Timeout time.Duration

	// InterArrival is the delay between paced samples (latency, mixed).
	// Default: 100µs
	InterArrival time.Duration

	// BatchSize is the number of items per sample (latency, allocation).
	BatchSize int

	// MixedRatio is the share of back-to-back samples in mixed runs, in
	// [0, 1]. Default: 0.8
	MixedRatio float64

	// BurstEvery triggers a burst sample every N mixed samples. Zero
	// disables bursts.
	BurstEvery int

	// BurstItems is the number of items in a burst sample.
	BurstItems int

	// KeepLatencies copies the raw measured latencies into the Result for
	// later significance testing.
	KeepLatencies bool
}

// DefaultConfig returns defaults for kind.
//
// Description:
//
//	All kinds use 1 KiB items, seed 1, a 1,000-sample warm-up and a
//	10,000-sample measurement with a five minute timeout. Throughput and
//	latency hold a quarter of items strongly in a fixed 1,024-item list;
//	mixed uses a cache container; allocation uses 64 KiB transient items in
//	batches of 100.
//
// Outputs:
//   - Config: Defaults for kind. Passes Validate.
func DefaultConfig(kind Kind) Config {
	cfg := Config{
		Kind:      kind,
		Generator: workload.DefaultConfig(),
		Retention: retention.Config{
			Mode:      retention.ModeFixed,
			Capacity:  1024,
			Container: retention.ContainerList,
		},
		Window: metrics.WindowConfig{
			WarmupCount:  1000,
			MeasureCount: 10_000,
		},
		Timeout:      5 * time.Minute,
		InterArrival: 100 * time.Microsecond,
		BatchSize:    1,
		MixedRatio:   0.8,
	}
	cfg.Generator.Mix = workload.ClassMix{Transient: 3, Strong: 1}

	switch kind {
	case KindLatency:
		cfg.BatchSize = 10
	case KindMixed:
		cfg.Retention.Container = retention.ContainerCache
		cfg.Generator.Mix = workload.ClassMix{Transient: 2, Weak: 1, Strong: 1}
		cfg.BatchSize = 10
		cfg.BurstEvery = 100
		cfg.BurstItems = 500
	case KindAllocation:
		cfg.Generator.Size = workload.Fixed(64 << 10)
		cfg.Generator.Mix = workload.ClassMix{Transient: 1}
		cfg.BatchSize = 100
	}
	return cfg
}

// Validate checks the configuration.
//
// Outputs:
//   - error: *failure.ConfigurationError naming the first invalid field.
func (c Config) Validate() error {
	if c.Kind < KindThroughput || c.Kind > KindAllocation {
		return failure.Invalid("workload_kind", c.Kind, "unknown kind")
	}
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if c.Window.MeasureCount == 0 && c.Window.MeasureDuration == 0 && c.Timeout == 0 {
		return failure.Invalid("measure_count", 0, "a measurement count, duration or timeout is required")
	}
	if c.Timeout < 0 {
		return failure.Invalid("timeout", c.Timeout, "must be non-negative")
	}
	switch c.Kind {
	case KindLatency, KindMixed:
		if c.InterArrival <= 0 {
			return failure.Invalid("inter_arrival", c.InterArrival, "must be positive")
		}
	}
	switch c.Kind {
	case KindLatency, KindAllocation, KindMixed:
		if c.BatchSize <= 0 {
			return failure.Invalid("batch_size", c.BatchSize, "must be positive")
		}
	}
	if c.Kind == KindMixed {
		if c.MixedRatio < 0 || c.MixedRatio > 1 {
			return failure.Invalid("mixed_ratio", c.MixedRatio, "must be within [0, 1]")
		}
		if c.BurstEvery < 0 {
			return failure.Invalid("burst_every", c.BurstEvery, "must be non-negative")
		}
		if c.BurstEvery > 0 && c.BurstItems <= 0 {
			return failure.Invalid("burst_items", c.BurstItems, "must be positive when bursts are enabled")
		}
	}
	return nil
}

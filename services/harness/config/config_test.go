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
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/regression"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// =============================================================================
// Load Tests
// =============================================================================

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	rc, err := cfg.RunnerConfig()
	require.NoError(t, err)
	assert.Equal(t, runner.KindThroughput, rc.Kind)
	assert.Equal(t, retention.ModeFixed, rc.Retention.Mode)
	assert.Equal(t, 500, rc.Retention.Capacity)
	assert.EqualValues(t, 10_000, rc.Window.MeasureCount)
	assert.True(t, rc.KeepLatencies)
}

func TestLoad_FullBundle(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "latency", cfg.WorkloadKind)
	assert.Equal(t, workload.Uniform(512, 4096), cfg.ItemSize.SizeSpec)
	assert.Equal(t, Capacity(2000), cfg.Capacity)
	assert.EqualValues(t, 20000, cfg.MeasureCount.Count)
	assert.EqualValues(t, 42, cfg.Seed)
	assert.False(t, bool(cfg.LeakMode))
	assert.Equal(t, 2*time.Minute, cfg.Timeout.Std())
	require.NotNil(t, cfg.Runtime.GCPercent)
	assert.Equal(t, 50, *cfg.Runtime.GCPercent)
	assert.Equal(t, ByteSize(512<<20), cfg.Runtime.MemoryLimit)
	assert.Equal(t, "listener", cfg.Scenario.Kind)
	assert.Equal(t, ByteSize(256<<20), cfg.Scenario.MemoryBudget)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.True(t, bool(cfg.Diagnostics.WatchTrigger))
	assert.Equal(t, "127.0.0.1:6061", cfg.Admin.Addr)
	assert.Equal(t, "prometheus", cfg.Telemetry.Exporter)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.InDelta(t, 0.01, cfg.Regression.Significance, 1e-9)

	// Keys absent from the file keep their defaults.
	assert.Zero(t, cfg.WarmupDuration)
	assert.True(t, bool(cfg.Regression.KeepSamples))
}

func TestLoad_LeakBundle(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "leak.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Capacity(retention.Unbounded), cfg.Capacity)
	assert.Equal(t, 30*time.Second, cfg.MeasureCount.Duration)
	assert.Equal(t, retention.ModeLeak, cfg.RetentionMode())

	rc, err := cfg.RunnerConfig()
	require.NoError(t, err)
	assert.Equal(t, runner.KindMixed, rc.Kind)
	assert.Equal(t, 30*time.Second, rc.Window.MeasureDuration)
	assert.Zero(t, rc.Window.MeasureCount)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown kind", "workload_kind: sprint\n", "workload_kind"},
		{"bad size", "item_size: gaussian(3)\n", "item_size"},
		{"zero size", "item_size: fixed(0)\n", "item_size"},
		{"bad capacity", "capacity: lots\n", "capacity"},
		{"unbounded without leak", "capacity: unbounded\n", "capacity"},
		{"bad measure", "measure_count: forever\n", "measure_count"},
		{"no stop condition", "measure_count: 0\ntimeout: 0s\n", "measure_count"},
		{"bad switch", "leak_mode: maybe\n", "switch"},
		{"bad duration", "timeout: soon\n", "duration"},
		{"negative batch", "batch_size: -1\n", "batch_size"},
		{"ratio above one", "mixed_ratio: 1.5\n", "mixed_ratio"},
		{"bad container", "container: tree\n", "container"},
		{"bad scenario", "scenario:\n  kind: socket\n", "scenario.kind"},
		{"bad exporter", "telemetry:\n  exporter: zipkin\n", "telemetry.exporter"},
		{"otlp without endpoint", "telemetry:\n  exporter: otlp\n", "telemetry.otlp_endpoint"},
		{"influx without bucket", "output:\n  influx:\n    url: http://localhost:8086\n    org: lab\n", "output.influx.bucket"},
		{"bad admin addr", "admin:\n  addr: nowhere\n", "admin.addr"},
		{"bad byte size", "runtime:\n  memory_limit: 3 parsecs\n", "byte_size"},
		{"gc percent", "runtime:\n  gc_percent: -5\n", "runtime.gc_percent"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var cerr *failure.ConfigurationError
			require.True(t, errors.As(err, &cerr), "got %T: %v", err, err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("workload_kind: latency\nwarp_factor: 9\n"))
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
	assert.Contains(t, err.Error(), "warp_factor")
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("workload_kind: [latency\n"))
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)

	data, err := Marshal(cfg)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gclab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workload_kind: allocation\nbatch_size: 7\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	rc, err := cfg.RunnerConfig()
	require.NoError(t, err)
	assert.Equal(t, runner.KindAllocation, rc.Kind)
	assert.Equal(t, 7, rc.BatchSize)
	assert.Equal(t, workload.Fixed(64<<10), rc.Generator.Size)
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestRunnerConfig_Overrides(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)

	rc, err := cfg.RunnerConfig()
	require.NoError(t, err)
	assert.Equal(t, runner.KindLatency, rc.Kind)
	assert.Equal(t, workload.Uniform(512, 4096), rc.Generator.Size)
	assert.EqualValues(t, 42, rc.Generator.Seed)
	assert.Equal(t, workload.ClassMix{Transient: 1, Weak: 1, Strong: 2}, rc.Generator.Mix)
	assert.Equal(t, retention.ContainerCache, rc.Retention.Container)
	assert.Equal(t, 2000, rc.Retention.Capacity)
	assert.EqualValues(t, 500, rc.Window.WarmupCount)
	assert.Equal(t, 250*time.Microsecond, rc.InterArrival)
	assert.Equal(t, 20, rc.BatchSize)
}

func TestRunnerConfig_KindDefaultsSurvive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkloadKind = "mixed"

	rc, err := cfg.RunnerConfig()
	require.NoError(t, err)
	def := runner.DefaultConfig(runner.KindMixed)
	assert.Equal(t, def.MixedRatio, rc.MixedRatio)
	assert.Equal(t, def.BurstEvery, rc.BurstEvery)
	assert.Equal(t, def.Generator.Mix, rc.Generator.Mix)
	assert.Equal(t, def.Retention.Container, rc.Retention.Container)
}

func TestRunnerConfig_ExplicitZeroRatio(t *testing.T) {
	cfg, err := Parse([]byte("workload_kind: mixed\nmixed_ratio: 0\n"))
	require.NoError(t, err)
	rc, err := cfg.RunnerConfig()
	require.NoError(t, err)
	assert.Zero(t, rc.MixedRatio)
}

func TestScenarioConfigs(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)

	sc := cfg.SessionConfig()
	assert.Equal(t, retention.ModeFixed, sc.Mode)
	assert.Equal(t, 2000, sc.Capacity)
	assert.Equal(t, time.Minute, sc.TTL)
	assert.Equal(t, workload.Fixed(65536), sc.SessionSize)
	require.NoError(t, sc.Validate())

	lc := cfg.ListenerConfig()
	assert.Equal(t, workload.Fixed(65536), lc.BufferSize)
	assert.EqualValues(t, 42, lc.Seed)

	dc := cfg.DriverConfig()
	assert.InDelta(t, 200, dc.TickRate, 1e-9)
	assert.EqualValues(t, 10000, dc.MaxTicks)
	assert.Equal(t, 10*time.Second, dc.SweepEvery)
	assert.Equal(t, 30*time.Second, dc.ReportEvery)
	assert.EqualValues(t, 256<<20, dc.MemoryBudget)
	assert.Equal(t, scenario.DefaultDriverConfig().BudgetCheckEvery, dc.BudgetCheckEvery)
	require.NoError(t, dc.Validate())

	cc := cfg.CaptureConfig("session-leak")
	assert.Equal(t, "/tmp/gclab/heap", cc.Dir)
	assert.Equal(t, diagnostics.FormatProfile, cc.Format)
	assert.Equal(t, "session-leak", cc.Prefix)
}

func TestDetectorConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "launch.yaml"))
	require.NoError(t, err)

	dc := cfg.DetectorConfig()
	assert.InDelta(t, 0.05, dc.P50Increase, 1e-9)
	assert.InDelta(t, 0.15, dc.P99Increase, 1e-9)
	assert.InDelta(t, 0.10, dc.P95Increase, 1e-9)
	assert.InDelta(t, 0.08, dc.ThroughputDecrease, 1e-9)
	assert.InDelta(t, 0.10, dc.AllocIncrease, 1e-9)
	assert.InDelta(t, 0.01, dc.Significance, 1e-9)
	assert.InDelta(t, 3.0, dc.OutlierIQR, 1e-9)
	assert.Equal(t, regression.DefaultConfig().WarnRatio, dc.WarnRatio)
}

func TestRuntimeConfig_ApplyRestores(t *testing.T) {
	pct := 37
	rt := RuntimeConfig{GCPercent: &pct, MemoryLimit: 1 << 30}

	restore := rt.Apply()
	assert.Equal(t, 37, debug.SetGCPercent(37))
	assert.EqualValues(t, 1<<30, debug.SetMemoryLimit(-1))
	restore()

	prev := debug.SetGCPercent(100)
	debug.SetGCPercent(prev)
	assert.NotEqual(t, 37, prev)
	assert.Contains(t, rt.String(), "gc_percent=37")
	assert.Contains(t, rt.String(), "memory_limit=1GiB")
	assert.Equal(t, "gc_percent=default memory_limit=unset", RuntimeConfig{}.String())
}

// =============================================================================
// Scalar Tests
// =============================================================================

func TestParseCapacity(t *testing.T) {
	c, err := ParseCapacity("Unbounded")
	require.NoError(t, err)
	assert.Equal(t, "unbounded", c.String())

	c, err = ParseCapacity("64")
	require.NoError(t, err)
	assert.Equal(t, Capacity(64), c)

	_, err = ParseCapacity("-1")
	assert.Error(t, err)
}

func TestParseMeasure(t *testing.T) {
	m, err := ParseMeasure("500")
	require.NoError(t, err)
	assert.Equal(t, Measure{Count: 500}, m)
	assert.Equal(t, "500", m.String())

	m, err = ParseMeasure("1m30s")
	require.NoError(t, err)
	assert.Equal(t, Measure{Duration: 90 * time.Second}, m)
	assert.Equal(t, "1m30s", m.String())

	_, err = ParseMeasure("-3")
	assert.Error(t, err)
}

func TestParseSwitch(t *testing.T) {
	for _, in := range []string{"on", "YES", "true", "1"} {
		s, err := ParseSwitch(in)
		require.NoError(t, err, in)
		assert.True(t, bool(s), in)
	}
	for _, in := range []string{"off", "no", "False", "0", ""} {
		s, err := ParseSwitch(in)
		require.NoError(t, err, in)
		assert.False(t, bool(s), in)
	}
	_, err := ParseSwitch("sometimes")
	assert.Error(t, err)
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
		str  string
	}{
		{"0", 0, "0"},
		{"100", 100, "100"},
		{"64k", 64 << 10, "64KiB"},
		{"512MiB", 512 << 20, "512MiB"},
		{"2 GB", 2 << 30, "2GiB"},
		{"1536KiB", 1536 << 10, "1536KiB"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}
	_, err := ParseByteSize("12 parsecs")
	assert.Error(t, err)
	_, err = ParseByteSize("MiB")
	assert.Error(t, err)

	largest, err := ParseByteSize("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, ByteSize(math.MaxUint64), largest)
	_, err = ParseByteSize("17179869184GiB")
	assert.True(t, failure.IsConfiguration(err), "got %v", err)
}

func TestSizeValue_Set(t *testing.T) {
	var v SizeValue
	assert.True(t, v.IsZero())
	require.NoError(t, v.Set("exponential(2048)"))
	assert.False(t, v.IsZero())
	assert.Equal(t, workload.Exponential(2048), v.SizeSpec)
	assert.Error(t, v.Set("fixed(-4)"))
}

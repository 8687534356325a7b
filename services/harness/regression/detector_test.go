// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/runner"
)

func baseResult(id string) *runner.Result {
	return &runner.Result{
		RunID:    id,
		Kind:     runner.KindLatency,
		Seed:     1,
		ItemSize: "fixed(1024)",
		Report: metrics.Report{
			Count:     1000,
			Successes: 1000,
			Latency: metrics.LatencyStats{
				P50: 100 * time.Microsecond,
				P95: 200 * time.Microsecond,
				P99: 400 * time.Microsecond,
			},
			Throughput:      metrics.ThroughputStats{ItemsPerSecond: 10_000},
			WarmupDiscarded: 0,
		},
		Memory: diagnostics.MemoryStats{AllocBytes: 1000 * 2048},
	}
}

func spread(center time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = center + time.Duration(i%10)*time.Microsecond
	}
	return out
}

func findMetric(findings []Finding, m Metric) (Finding, bool) {
	for _, f := range findings {
		if f.Metric == m {
			return f, true
		}
	}
	return Finding{}, false
}

func TestDetect_NoChangePasses(t *testing.T) {
	d := NewDetector(DefaultConfig())
	c, err := d.Detect(baseResult("b"), baseResult("c"))
	require.NoError(t, err)

	assert.True(t, c.Pass)
	assert.False(t, c.HasRegressions())
	assert.Empty(t, c.Warnings)
	assert.Equal(t, SeverityNone, c.MaxSeverity)
	assert.Equal(t, "b", c.BaselineID)
	assert.Equal(t, "c", c.CurrentID)
}

func TestDetect_KindMismatch(t *testing.T) {
	cur := baseResult("c")
	cur.Kind = runner.KindThroughput
	_, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = NewDetector(DefaultConfig()).Detect(nil, cur)
	assert.Error(t, err)
}

func TestDetect_LatencyRegression(t *testing.T) {
	cur := baseResult("c")
	cur.Report.Latency.P99 = 600 * time.Microsecond // +50%

	c, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	require.NoError(t, err)

	assert.False(t, c.Pass)
	f, ok := findMetric(c.Regressions, MetricLatencyP99)
	require.True(t, ok)
	assert.Equal(t, SeverityError, f.Severity)
	assert.InDelta(t, 0.5, f.Change, 1e-9)
	assert.Contains(t, f.Message, "latency_p99 increased by 50.0%")
	assert.Equal(t, SeverityError, c.MaxSeverity)
}

func TestDetect_WarningNearThreshold(t *testing.T) {
	cur := baseResult("c")
	cur.Report.Latency.P50 = 109 * time.Microsecond // +9% of a 10% threshold

	c, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	require.NoError(t, err)

	assert.True(t, c.Pass)
	f, ok := findMetric(c.Warnings, MetricLatencyP50)
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, f.Severity)
	assert.Contains(t, f.Message, "approaching")
	assert.Equal(t, SeverityWarning, c.MaxSeverity)
}

func TestDetect_ThroughputAndAlloc(t *testing.T) {
	cur := baseResult("c")
	cur.Report.Throughput.ItemsPerSecond = 8_000 // -20%
	cur.Memory.AllocBytes = 1000 * 4096          // doubled per sample

	c, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	require.NoError(t, err)

	tp, ok := findMetric(c.Regressions, MetricThroughput)
	require.True(t, ok)
	assert.InDelta(t, 0.2, tp.Change, 1e-9)
	assert.Contains(t, tp.Message, "decreased")

	alloc, ok := findMetric(c.Regressions, MetricAllocPerSample)
	require.True(t, ok)
	assert.InDelta(t, 1.0, alloc.Change, 1e-9)
}

func TestDetect_ImprovementIsNotRegression(t *testing.T) {
	cur := baseResult("c")
	cur.Report.Latency.P99 = 100 * time.Microsecond
	cur.Report.Throughput.ItemsPerSecond = 50_000

	c, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	require.NoError(t, err)
	assert.True(t, c.Pass)
	assert.Empty(t, c.Warnings)
}

func TestDetect_FailureRateIsCritical(t *testing.T) {
	cur := baseResult("c")
	cur.Report.Successes = 950
	cur.Report.Failures = 50

	c, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	require.NoError(t, err)
	f, ok := findMetric(c.Regressions, MetricFailureRate)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, f.Severity)
	assert.Equal(t, SeverityCritical, c.MaxSeverity)
}

func TestDetect_ContextWarnings(t *testing.T) {
	base := baseResult("b")
	cur := baseResult("c")
	cur.Report.Count = 10
	cur.Report.Successes = 10
	cur.Memory.AllocBytes = 10 * 2048
	cur.Report = cur.Report.MarkIncomplete("cancelled")
	cur.Seed = 99

	c, err := NewDetector(DefaultConfig()).Detect(base, cur)
	require.NoError(t, err)
	assert.True(t, c.Pass)
	require.Len(t, c.Warnings, 3)
	assert.Contains(t, c.Warnings[0].Message, "insufficient samples: 10 < 30")
	assert.Contains(t, c.Warnings[1].Message, "incomplete: cancelled")
	assert.Contains(t, c.Warnings[2].Message, "different configuration")
}

func TestDetect_InsignificantLatencyDemoted(t *testing.T) {
	base := baseResult("b")
	cur := baseResult("c")
	cur.Report.Latency.P99 = 800 * time.Microsecond
	cur.Report.Throughput.ItemsPerSecond = 5_000

	// Identical distributions: the P99 jump is noise.
	base.Latencies = spread(100*time.Microsecond, 200)
	cur.Latencies = spread(100*time.Microsecond, 200)

	c, err := NewDetector(DefaultConfig()).Detect(base, cur)
	require.NoError(t, err)

	require.NotNil(t, c.Significance)
	assert.False(t, c.Significance.Significant)
	_, stillRegression := findMetric(c.Regressions, MetricLatencyP99)
	assert.False(t, stillRegression)
	demoted, ok := findMetric(c.Warnings, MetricLatencyP99)
	require.True(t, ok)
	assert.Contains(t, demoted.Message, "not significant")

	// Throughput is not covered by the latency test.
	_, ok = findMetric(c.Regressions, MetricThroughput)
	assert.True(t, ok)
	assert.False(t, c.Pass)
	assert.Equal(t, SeverityError, c.MaxSeverity)
}

func TestDetect_SignificantLatencyKept(t *testing.T) {
	base := baseResult("b")
	cur := baseResult("c")
	cur.Report.Latency.P50 = 300 * time.Microsecond

	base.Latencies = spread(100*time.Microsecond, 200)
	cur.Latencies = spread(300*time.Microsecond, 200)

	c, err := NewDetector(DefaultConfig()).Detect(base, cur)
	require.NoError(t, err)
	require.NotNil(t, c.Significance)
	assert.True(t, c.Significance.Significant)
	assert.Positive(t, c.Significance.CohensD)
	_, ok := findMetric(c.Regressions, MetricLatencyP50)
	assert.True(t, ok)
	assert.False(t, c.Pass)
}

func TestDetect_OutliersTrimmedBeforeSignificance(t *testing.T) {
	newPair := func() (*runner.Result, *runner.Result) {
		base := baseResult("b")
		cur := baseResult("c")
		cur.Report.Latency.P50 = 120 * time.Microsecond
		base.Latencies = spread(100*time.Microsecond, 200)
		// A shifted distribution plus three collector-pause sized stalls.
		cur.Latencies = append(spread(120*time.Microsecond, 200),
			50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond)
		return base, cur
	}

	untrimmed := DefaultConfig()
	untrimmed.OutlierIQR = 0
	base, cur := newPair()
	c, err := NewDetector(untrimmed).Detect(base, cur)
	require.NoError(t, err)
	require.NotNil(t, c.Significance)
	assert.False(t, c.Significance.Significant, "stalls inflate the variance")
	_, ok := findMetric(c.Warnings, MetricLatencyP50)
	assert.True(t, ok)

	base, cur = newPair()
	c, err = NewDetector(DefaultConfig()).Detect(base, cur)
	require.NoError(t, err)
	require.NotNil(t, c.Significance)
	assert.True(t, c.Significance.Significant)
	assert.Equal(t, 0, c.Significance.BaselineTrimmed)
	assert.Equal(t, 3, c.Significance.CurrentTrimmed)
	_, ok = findMetric(c.Regressions, MetricLatencyP50)
	assert.True(t, ok)
	assert.False(t, c.Pass)
	assert.Len(t, cur.Latencies, 203, "inputs are not modified")
}

func TestDetect_SignificanceDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Significance = 0
	base := baseResult("b")
	base.Latencies = spread(time.Microsecond, 10)
	cur := baseResult("c")
	cur.Latencies = spread(time.Microsecond, 10)

	c, err := NewDetector(cfg).Detect(base, cur)
	require.NoError(t, err)
	assert.Nil(t, c.Significance)
}

func TestComparison_JSON(t *testing.T) {
	cur := baseResult("c")
	cur.Report.Latency.P99 = time.Millisecond
	c, err := NewDetector(DefaultConfig()).Detect(baseResult("b"), cur)
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"metric":"latency_p99"`)
	assert.Contains(t, string(data), `"severity":"error"`)
	assert.Contains(t, string(data), `"kind":"latency"`)

	var back Comparison
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Regressions, 1)
	assert.Equal(t, MetricLatencyP99, back.Regressions[0].Metric)
	assert.Equal(t, SeverityError, back.MaxSeverity)

	var sev Severity
	assert.Error(t, sev.UnmarshalText([]byte("fatal")))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "alloc_per_sample", MetricAllocPerSample.String())
	assert.Equal(t, "unknown", Metric(42).String())
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "unknown", Severity(42).String())
}

func TestDetect_GoReleaseChange(t *testing.T) {
	d := NewDetector(DefaultConfig())

	baseline, current := baseResult("b"), baseResult("c")
	baseline.GoVersion = "go1.24.9"
	current.GoVersion = "go1.25.3"
	c, err := d.Detect(baseline, current)
	require.NoError(t, err)
	require.Len(t, c.Warnings, 1)
	assert.Equal(t, "Go release changed from v1.24 to v1.25", c.Warnings[0].Message)
	assert.True(t, c.Pass)

	current.GoVersion = "go1.24.2"
	c, err = d.Detect(baseline, current)
	require.NoError(t, err)
	assert.Empty(t, c.Warnings)

	current.GoVersion = "devel go1.26-abcdef"
	c, err = d.Detect(baseline, current)
	require.NoError(t, err)
	assert.Empty(t, c.Warnings)
}

func TestGoRelease(t *testing.T) {
	tests := map[string]string{
		"go1.25.3":  "v1.25",
		"go1.25":    "v1.25",
		"":          "",
		"go1.26rc1": "",
	}
	for in, want := range tests {
		if got := goRelease(in); got != want {
			t.Errorf("goRelease(%q) = %q, want %q", in, got, want)
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package regression compares a benchmark result with a stored baseline.
//
// Latency percentiles, throughput, allocation per sample and failure rate
// are each checked against a relative threshold. A change above the
// threshold is a regression; a change above WarnRatio of the threshold is
// a warning. When both results carry raw latencies, a Welch t-test decides
// whether latency regressions are statistically significant; insignificant
// ones are demoted to warnings.
package regression

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/runner"
)

// ErrKindMismatch is returned when comparing results of different kinds.
var ErrKindMismatch = errors.New("baseline and current results have different workload kinds")

// -----------------------------------------------------------------------------
// Metric and Severity
// -----------------------------------------------------------------------------

// Metric identifies the compared quantity.
type Metric int

const (
	MetricNone Metric = iota
	MetricLatencyP50
	MetricLatencyP95
	MetricLatencyP99
	MetricThroughput
	MetricAllocPerSample
	MetricFailureRate
)

// String returns the metric name.
func (m Metric) String() string {
	switch m {
	case MetricNone:
		return "none"
	case MetricLatencyP50:
		return "latency_p50"
	case MetricLatencyP95:
		return "latency_p95"
	case MetricLatencyP99:
		return "latency_p99"
	case MetricThroughput:
		return "throughput"
	case MetricAllocPerSample:
		return "alloc_per_sample"
	case MetricFailureRate:
		return "failure_rate"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	for c := MetricNone; c <= MetricFailureRate; c++ {
		if c.String() == string(text) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown metric %q", text)
}

func (m Metric) isLatency() bool {
	return m == MetricLatencyP50 || m == MetricLatencyP95 || m == MetricLatencyP99
}

// Severity ranks findings.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for c := SeverityNone; c <= SeverityCritical; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// -----------------------------------------------------------------------------
// Comparison
// -----------------------------------------------------------------------------

// Finding is one regression or warning.
type Finding struct {
	Metric        Metric   `json:"metric"`
	Severity      Severity `json:"severity"`
	BaselineValue float64  `json:"baseline"`
	CurrentValue  float64  `json:"current"`

	// Change is the relative change in the bad direction, absolute for
	// failure rate.
	Change    float64 `json:"change"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// Significance holds the latency t-test outcome.
type Significance struct {
	T           float64 `json:"t"`
	P           float64 `json:"p"`
	CohensD     float64 `json:"cohens_d"` // positive when current is slower
	Significant bool    `json:"significant"`

	// BaselineTrimmed and CurrentTrimmed count latencies dropped as
	// outliers before the test.
	BaselineTrimmed int `json:"baseline_trimmed,omitempty"`
	CurrentTrimmed  int `json:"current_trimmed,omitempty"`
}

// Comparison is the outcome of Detect.
type Comparison struct {
	Kind         runner.Kind   `json:"kind"`
	BaselineID   string        `json:"baseline_id"`
	CurrentID    string        `json:"current_id"`
	Regressions  []Finding     `json:"regressions"`
	Warnings     []Finding     `json:"warnings"`
	Significance *Significance `json:"significance,omitempty"`
	Pass         bool          `json:"pass"`
	MaxSeverity  Severity      `json:"max_severity"`
	AnalyzedAt   time.Time     `json:"analyzed_at"`
}

// HasRegressions reports whether any blocking finding was made.
func (c *Comparison) HasRegressions() bool { return len(c.Regressions) > 0 }

func (c *Comparison) addRegression(f Finding) {
	c.Regressions = append(c.Regressions, f)
	c.Pass = false
	if f.Severity > c.MaxSeverity {
		c.MaxSeverity = f.Severity
	}
}

func (c *Comparison) addWarning(f Finding) {
	c.Warnings = append(c.Warnings, f)
	if c.MaxSeverity < SeverityWarning {
		c.MaxSeverity = SeverityWarning
	}
}

// -----------------------------------------------------------------------------
// Detector
// -----------------------------------------------------------------------------

// Config holds thresholds as ratios (0.10 = 10%).
type Config struct {
	P50Increase        float64
	P95Increase        float64
	P99Increase        float64
	ThroughputDecrease float64
	AllocIncrease      float64

	// FailureRateIncrease is an absolute increase in failure rate.
	FailureRateIncrease float64

	// WarnRatio is the share of a threshold at which a warning is raised.
	WarnRatio float64

	// MinSamples warns when either report has fewer samples.
	MinSamples int

	// Significance is the p-value cutoff for the latency t-test. Zero
	// disables the test.
	Significance float64

	// OutlierIQR is the IQR multiplier used to trim both latency sets
	// before the t-test. Zero disables trimming.
	OutlierIQR float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		P50Increase:         0.10,
		P95Increase:         0.15,
		P99Increase:         0.20,
		ThroughputDecrease:  0.10,
		AllocIncrease:       0.15,
		FailureRateIncrease: 0.01,
		WarnRatio:           0.80,
		MinSamples:          30,
		Significance:        0.05,
		OutlierIQR:          3.0,
	}
}

// Detector compares results. It is stateless and safe for concurrent use.
type Detector struct {
	cfg Config
	now func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	if cfg.WarnRatio <= 0 || cfg.WarnRatio > 1 {
		cfg.WarnRatio = 0.80
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// Detect compares current against baseline.
//
// Outputs:
//   - *Comparison: Findings; Pass is false when any regression was found.
//   - error: ErrKindMismatch when the kinds differ.
func (d *Detector) Detect(baseline, current *runner.Result) (*Comparison, error) {
	if baseline == nil || current == nil {
		return nil, errors.New("baseline and current must not be nil")
	}
	if baseline.Kind != current.Kind {
		return nil, fmt.Errorf("%w: %s vs %s", ErrKindMismatch, baseline.Kind, current.Kind)
	}

	c := &Comparison{
		Kind:        current.Kind,
		BaselineID:  baseline.RunID,
		CurrentID:   current.RunID,
		Regressions: []Finding{},
		Warnings:    []Finding{},
		Pass:        true,
		AnalyzedAt:  d.now(),
	}

	base, cur := baseline.Report, current.Report
	for _, n := range []int{base.Count, cur.Count} {
		if n < d.cfg.MinSamples {
			c.addWarning(Finding{Message: fmt.Sprintf("insufficient samples: %d < %d", n, d.cfg.MinSamples)})
			break
		}
	}
	if current.Incomplete() {
		c.addWarning(Finding{Message: "current run is incomplete: " + cur.Reason})
	}
	if baseline.ItemSize != current.ItemSize || baseline.Seed != current.Seed || baseline.LeakMode != current.LeakMode {
		c.addWarning(Finding{Message: "baseline was run with a different configuration"})
	}
	if from, to := goRelease(baseline.GoVersion), goRelease(current.GoVersion); from != "" && to != "" && from != to {
		c.addWarning(Finding{Message: fmt.Sprintf("Go release changed from %s to %s", from, to)})
	}

	d.checkIncrease(c, MetricLatencyP50, float64(base.Latency.P50), float64(cur.Latency.P50), d.cfg.P50Increase)
	d.checkIncrease(c, MetricLatencyP95, float64(base.Latency.P95), float64(cur.Latency.P95), d.cfg.P95Increase)
	d.checkIncrease(c, MetricLatencyP99, float64(base.Latency.P99), float64(cur.Latency.P99), d.cfg.P99Increase)
	d.checkThroughput(c, base.Throughput.ItemsPerSecond, cur.Throughput.ItemsPerSecond)
	d.checkIncrease(c, MetricAllocPerSample, allocPerSample(baseline), allocPerSample(current), d.cfg.AllocIncrease)
	d.checkFailureRate(c, base.FailureRate(), cur.FailureRate())

	if d.cfg.Significance > 0 && len(baseline.Latencies) >= 2 && len(current.Latencies) >= 2 {
		d.applySignificance(c, baseline.Latencies, current.Latencies)
	}
	return c, nil
}

// goRelease maps a runtime.Version() string such as "go1.25.3" to its
// major.minor release, or "" for development builds.
func goRelease(version string) string {
	v := "v" + strings.TrimPrefix(version, "go")
	if !semver.IsValid(v) {
		return ""
	}
	return semver.MajorMinor(v)
}

// allocPerSample divides runtime allocation by every sample taken,
// warm-up included, since the memory delta spans the whole run.
func allocPerSample(r *runner.Result) float64 {
	n := int64(r.Report.Count) + r.Report.WarmupDiscarded
	if n == 0 {
		return 0
	}
	return float64(r.Memory.AllocBytes) / float64(n)
}

func (d *Detector) classify(c *Comparison, f Finding, severity Severity, label string) {
	switch {
	case f.Change > f.Threshold:
		f.Severity = severity
		f.Message = fmt.Sprintf("%s %s by %.1f%% (threshold %.1f%%)", f.Metric, label, f.Change*100, f.Threshold*100)
		c.addRegression(f)
	case f.Change > f.Threshold*d.cfg.WarnRatio:
		f.Severity = SeverityWarning
		f.Message = fmt.Sprintf("%s %s by %.1f%% (approaching threshold %.1f%%)", f.Metric, label, f.Change*100, f.Threshold*100)
		c.addWarning(f)
	}
}

func (d *Detector) checkIncrease(c *Comparison, m Metric, baseline, current, threshold float64) {
	if baseline == 0 || threshold <= 0 {
		return
	}
	d.classify(c, Finding{
		Metric:        m,
		BaselineValue: baseline,
		CurrentValue:  current,
		Change:        (current - baseline) / baseline,
		Threshold:     threshold,
	}, SeverityError, "increased")
}

func (d *Detector) checkThroughput(c *Comparison, baseline, current float64) {
	if baseline == 0 || d.cfg.ThroughputDecrease <= 0 {
		return
	}
	d.classify(c, Finding{
		Metric:        MetricThroughput,
		BaselineValue: baseline,
		CurrentValue:  current,
		Change:        (baseline - current) / baseline,
		Threshold:     d.cfg.ThroughputDecrease,
	}, SeverityError, "decreased")
}

func (d *Detector) checkFailureRate(c *Comparison, baseline, current float64) {
	if d.cfg.FailureRateIncrease <= 0 {
		return
	}
	d.classify(c, Finding{
		Metric:        MetricFailureRate,
		BaselineValue: baseline,
		CurrentValue:  current,
		Change:        current - baseline,
		Threshold:     d.cfg.FailureRateIncrease,
	}, SeverityCritical, "increased")
}

// applySignificance demotes latency regressions when the latency
// distributions are not significantly different.
func (d *Detector) applySignificance(c *Comparison, baseline, current []time.Duration) {
	b, cur := baseline, current
	if d.cfg.OutlierIQR > 0 {
		b = metrics.RemoveOutliers(baseline, d.cfg.OutlierIQR)
		cur = metrics.RemoveOutliers(current, d.cfg.OutlierIQR)
	}
	t, p := metrics.WelchTTest(b, cur)
	sig := &Significance{
		T:               t,
		P:               p,
		CohensD:         metrics.CalculateCohensD(cur, b),
		Significant:     p <= d.cfg.Significance,
		BaselineTrimmed: len(baseline) - len(b),
		CurrentTrimmed:  len(current) - len(cur),
	}
	c.Significance = sig
	if sig.Significant {
		return
	}

	kept := c.Regressions[:0]
	demoted := 0
	for _, f := range c.Regressions {
		if f.Metric.isLatency() {
			f.Severity = SeverityWarning
			f.Message += fmt.Sprintf(", not significant (p=%.4f)", p)
			c.Warnings = append(c.Warnings, f)
			demoted++
			continue
		}
		kept = append(kept, f)
	}
	if demoted == 0 {
		return
	}
	c.Regressions = kept
	c.Pass = len(kept) == 0
	c.MaxSeverity = SeverityWarning
	for _, f := range kept {
		if f.Severity > c.MaxSeverity {
			c.MaxSeverity = f.Severity
		}
	}
}

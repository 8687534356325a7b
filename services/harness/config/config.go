// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the gclab launch bundle.
//
// A bundle is a YAML document. Only the top-level benchmark keys are needed
// for a run; the nested sections configure the launcher around it:
//
//	workload_kind: latency
//	item_size: uniform(512,4096)
//	capacity: unbounded
//	warmup_count: 1000
//	measure_count: 30s
//	seed: 42
//	leak_mode: on
//
//	scenario:
//	  kind: session
//	  tick_rate: 100
//	  memory_budget: 256MiB
//	runtime:
//	  memory_limit: 512MiB
//	  gc_percent: 100
//
// Load starts from DefaultConfig, overlays the file and validates the
// result. Every validation failure is a *failure.ConfigurationError.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/regression"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// =============================================================================
// Launch Bundle
// =============================================================================

// LaunchConfig is the complete launch bundle.
type LaunchConfig struct {
	// WorkloadKind selects the benchmark discipline.
	WorkloadKind string `yaml:"workload_kind" validate:"required,oneof=throughput latency mixed allocation"`

	// ItemSize is the payload size distribution. Empty uses the kind default.
	ItemSize SizeValue `yaml:"item_size,omitempty"`

	// Capacity bounds retention when leak_mode is off.
	Capacity Capacity `yaml:"capacity" validate:"gte=0"`

	// WarmupCount and WarmupDuration bound the discarded warm-up window.
	WarmupCount    int64    `yaml:"warmup_count" validate:"gte=0"`
	WarmupDuration Duration `yaml:"warmup_duration,omitempty" validate:"gte=0"`

	// MeasureCount is a sample count or a duration.
	MeasureCount Measure `yaml:"measure_count"`

	// Seed makes item sizes reproducible.
	Seed uint64 `yaml:"seed"`

	// LeakMode disables eviction and unregistration.
	LeakMode Switch `yaml:"leak_mode"`

	// Container selects list or cache retention. Empty uses the kind default.
	Container string `yaml:"container,omitempty" validate:"omitempty,oneof=list cache"`

	// ClassMix weights retention classes. All zero uses the kind default.
	ClassMix ClassMixConfig `yaml:"class_mix,omitempty"`

	// Timeout bounds the Measuring phase.
	Timeout Duration `yaml:"timeout,omitempty" validate:"gte=0"`

	// Discipline parameters. Zero uses the kind default.
	InterArrival Duration `yaml:"inter_arrival,omitempty" validate:"gte=0"`
	BatchSize    int      `yaml:"batch_size,omitempty" validate:"gte=0"`
	MixedRatio   *float64 `yaml:"mixed_ratio,omitempty" validate:"omitempty,gte=0,lte=1"`
	BurstEvery   int      `yaml:"burst_every,omitempty" validate:"gte=0"`
	BurstItems   int      `yaml:"burst_items,omitempty" validate:"gte=0"`

	Runtime     RuntimeConfig     `yaml:"runtime"`
	Scenario    ScenarioConfig    `yaml:"scenario"`
	Output      OutputConfig      `yaml:"output"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Admin       AdminConfig       `yaml:"admin"`
	Storage     StorageConfig     `yaml:"storage"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Regression  RegressionConfig  `yaml:"regression"`
}

// ClassMixConfig weights the retention classes.
type ClassMixConfig struct {
	Transient int `yaml:"transient" validate:"gte=0"`
	Weak      int `yaml:"weak" validate:"gte=0"`
	Strong    int `yaml:"strong" validate:"gte=0"`
}

// RuntimeConfig holds Go runtime memory settings. They affect measured
// results but not harness behaviour.
type RuntimeConfig struct {
	// GCPercent is passed to debug.SetGCPercent. -1 disables the collector.
	GCPercent *int `yaml:"gc_percent,omitempty" validate:"omitempty,gte=-1"`

	// MemoryLimit is passed to debug.SetMemoryLimit. Zero leaves it unset.
	MemoryLimit ByteSize `yaml:"memory_limit,omitempty"`
}

// ScenarioConfig configures leak scenarios.
type ScenarioConfig struct {
	Kind         string    `yaml:"kind" validate:"oneof=session listener"`
	ItemSize     SizeValue `yaml:"item_size,omitempty"`
	TickRate     float64   `yaml:"tick_rate" validate:"gte=0"`
	MaxTicks     int64     `yaml:"max_ticks,omitempty" validate:"gte=0"`
	SweepEvery   Duration  `yaml:"sweep_every" validate:"gte=0"`
	ReportEvery  Duration  `yaml:"report_every" validate:"gte=0"`
	TTL          Duration  `yaml:"ttl" validate:"gte=0"`
	MemoryBudget ByteSize  `yaml:"memory_budget,omitempty"`
}

// OutputConfig selects where reports go.
type OutputConfig struct {
	// Format is console or json.
	Format string `yaml:"format" validate:"oneof=console json"`

	// File appends JSON-lines reports to this path when set.
	File string `yaml:"file,omitempty"`

	// StatusEvery emits a live report while a benchmark runs. Zero disables.
	StatusEvery Duration `yaml:"status_every,omitempty" validate:"gte=0"`

	Influx InfluxConfig `yaml:"influx,omitempty"`
}

// InfluxConfig enables the InfluxDB sink when URL is set.
type InfluxConfig struct {
	URL    string `yaml:"url,omitempty" validate:"omitempty,url"`
	Token  string `yaml:"token,omitempty"`
	Org    string `yaml:"org,omitempty" validate:"required_with=URL"`
	Bucket string `yaml:"bucket,omitempty" validate:"required_with=URL"`
}

// DiagnosticsConfig configures heap capture and residency sampling.
type DiagnosticsConfig struct {
	CaptureDir    string   `yaml:"capture_dir"`
	CaptureFormat string   `yaml:"capture_format" validate:"oneof=pprof dump"`
	OnExhaustion  Switch   `yaml:"capture_on_exhaustion"`
	WatchTrigger  Switch   `yaml:"watch_trigger"`
	SampleEvery   Duration `yaml:"sample_every" validate:"gte=0"`
}

// AdminConfig enables the admin HTTP server when Addr is set.
type AdminConfig struct {
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// StorageConfig locates the report store.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory,omitempty"`
}

// TelemetryConfig selects the OpenTelemetry exporter.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Exporter otlp"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// RegressionConfig holds baseline comparison thresholds, in percent.
type RegressionConfig struct {
	P50Increase        float64 `yaml:"p50_increase" validate:"gte=0"`
	P99Increase        float64 `yaml:"p99_increase" validate:"gte=0"`
	ThroughputDecrease float64 `yaml:"throughput_decrease" validate:"gte=0,lte=100"`
	AllocRateIncrease  float64 `yaml:"alloc_rate_increase" validate:"gte=0"`
	Significance       float64 `yaml:"significance" validate:"gte=0,lt=1"`

	// OutlierIQR trims latencies beyond this many interquartile ranges
	// before the significance test. Zero keeps every sample.
	OutlierIQR float64 `yaml:"outlier_iqr" validate:"gte=0"`

	// KeepSamples stores raw latencies with each result so comparisons can
	// run a significance test.
	KeepSamples Switch `yaml:"keep_samples"`
}

// DefaultConfig returns the launch defaults.
//
// Description:
//
//	A 10,000-sample throughput run of 1 KiB items after a 1,000-sample
//	warm-up, seed 1, fixed retention of 500 items. Scenarios default to the
//	session pair at 100 ticks per second with a 30 second sweep and a one
//	minute status report.
func DefaultConfig() LaunchConfig {
	return LaunchConfig{
		WorkloadKind: runner.KindThroughput.String(),
		Capacity:     500,
		WarmupCount:  1000,
		MeasureCount: Measure{Count: 10_000},
		Seed:         1,
		Timeout:      Duration(5 * time.Minute),
		Scenario: ScenarioConfig{
			Kind:        string(scenario.KindSession),
			TickRate:    100,
			SweepEvery:  Duration(30 * time.Second),
			ReportEvery: Duration(time.Minute),
			TTL:         Duration(5 * time.Minute),
		},
		Output: OutputConfig{Format: "console"},
		Diagnostics: DiagnosticsConfig{
			CaptureDir:    "heap_dumps",
			CaptureFormat: string(diagnostics.FormatProfile),
			OnExhaustion:  true,
			SampleEvery:   Duration(5 * time.Second),
		},
		Storage:   StorageConfig{Path: "gclab_data"},
		Telemetry: TelemetryConfig{Exporter: "none", ServiceName: "gclab"},
		Logging:   LoggingConfig{Level: "info"},
		Regression: RegressionConfig{
			P50Increase:        10,
			P99Increase:        20,
			ThroughputDecrease: 10,
			AllocRateIncrease:  15,
			Significance:       0.05,
			OutlierIQR:         3,
			KeepSamples:        true,
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads path over DefaultConfig and validates the result.
//
// Outputs:
//   - LaunchConfig: The validated bundle.
//   - error: *failure.ConfigurationError for unreadable, malformed or
//     invalid bundles.
func Load(path string) (LaunchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LaunchConfig{}, &failure.ConfigurationError{Field: "config", Value: path, Reason: "cannot read file", Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return LaunchConfig{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML bundle over DefaultConfig and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (LaunchConfig, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var cerr *failure.ConfigurationError
		if errors.As(err, &cerr) {
			return LaunchConfig{}, cerr
		}
		return LaunchConfig{}, &failure.ConfigurationError{Field: "config", Reason: "malformed YAML", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return LaunchConfig{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg LaunchConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// =============================================================================
// Validation
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and cross-field rules.
func (c LaunchConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return translate(err)
	}
	if !c.ItemSize.IsZero() {
		if err := c.ItemSize.SizeSpec.Validate(); err != nil {
			return err
		}
	}
	if !c.Scenario.ItemSize.IsZero() {
		if err := c.Scenario.ItemSize.SizeSpec.Validate(); err != nil {
			return err
		}
	}
	if !c.LeakMode && c.Capacity == Capacity(retention.Unbounded) {
		return failure.Invalid("capacity", c.Capacity.String(), "an unbounded capacity requires leak_mode: on")
	}
	if c.MeasureCount.Count == 0 && c.MeasureCount.Duration == 0 && c.Timeout == 0 {
		return failure.Invalid("measure_count", c.MeasureCount.String(), "a measurement count, duration or timeout is required")
	}
	return nil
}

// translate converts the first validator failure into a ConfigurationError
// named by its YAML path.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &failure.ConfigurationError{Field: "config", Reason: "validation failed", Err: err}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	reason := "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return failure.Invalid(field, fe.Value(), reason)
}

// =============================================================================
// Component Configuration
// =============================================================================

// Kind returns the parsed workload kind.
func (c LaunchConfig) Kind() (runner.Kind, error) {
	return runner.ParseKind(c.WorkloadKind)
}

// RetentionMode maps LeakMode to a retention.Mode.
func (c LaunchConfig) RetentionMode() retention.Mode {
	if c.LeakMode {
		return retention.ModeLeak
	}
	return retention.ModeFixed
}

// RunnerConfig builds the runner configuration.
//
// Description:
//
//	Starts from runner.DefaultConfig for the workload kind and overrides
//	every field the bundle sets. The result is validated by the runner
//	rules, so a fixed-mode bundle with an unbounded capacity fails here.
func (c LaunchConfig) RunnerConfig() (runner.Config, error) {
	kind, err := c.Kind()
	if err != nil {
		return runner.Config{}, err
	}
	cfg := runner.DefaultConfig(kind)

	if !c.ItemSize.IsZero() {
		cfg.Generator.Size = c.ItemSize.SizeSpec
	}
	cfg.Generator.Seed = c.Seed
	if mix := (workload.ClassMix{Transient: c.ClassMix.Transient, Weak: c.ClassMix.Weak, Strong: c.ClassMix.Strong}); mix != (workload.ClassMix{}) {
		cfg.Generator.Mix = mix
	}

	cfg.Retention.Mode = c.RetentionMode()
	cfg.Retention.Capacity = int(c.Capacity)
	if c.Container != "" {
		container, err := retention.ParseContainer(c.Container)
		if err != nil {
			return runner.Config{}, err
		}
		cfg.Retention.Container = container
	}

	cfg.Window = metrics.WindowConfig{
		WarmupCount:     c.WarmupCount,
		WarmupDuration:  c.WarmupDuration.Std(),
		MeasureCount:    c.MeasureCount.Count,
		MeasureDuration: c.MeasureCount.Duration,
	}
	cfg.Timeout = c.Timeout.Std()
	cfg.KeepLatencies = bool(c.Regression.KeepSamples)

	if c.InterArrival > 0 {
		cfg.InterArrival = c.InterArrival.Std()
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.MixedRatio != nil {
		cfg.MixedRatio = *c.MixedRatio
	}
	if c.BurstEvery > 0 {
		cfg.BurstEvery = c.BurstEvery
	}
	if c.BurstItems > 0 {
		cfg.BurstItems = c.BurstItems
	}

	if err := cfg.Validate(); err != nil {
		return runner.Config{}, err
	}
	return cfg, nil
}

// SessionConfig builds the session scenario configuration.
func (c LaunchConfig) SessionConfig() scenario.SessionConfig {
	cfg := scenario.DefaultSessionConfig(c.RetentionMode())
	cfg.Capacity = int(c.Capacity)
	cfg.TTL = c.Scenario.TTL.Std()
	cfg.Seed = c.Seed
	if !c.Scenario.ItemSize.IsZero() {
		cfg.SessionSize = c.Scenario.ItemSize.SizeSpec
	}
	return cfg
}

// ListenerConfig builds the listener scenario configuration.
func (c LaunchConfig) ListenerConfig() scenario.ListenerConfig {
	cfg := scenario.DefaultListenerConfig(c.RetentionMode())
	cfg.Seed = c.Seed
	if !c.Scenario.ItemSize.IsZero() {
		cfg.BufferSize = c.Scenario.ItemSize.SizeSpec
	}
	return cfg
}

// DriverConfig builds the scenario driver configuration.
func (c LaunchConfig) DriverConfig() scenario.DriverConfig {
	cfg := scenario.DefaultDriverConfig()
	cfg.TickRate = c.Scenario.TickRate
	cfg.MaxTicks = c.Scenario.MaxTicks
	cfg.SweepEvery = c.Scenario.SweepEvery.Std()
	cfg.ReportEvery = c.Scenario.ReportEvery.Std()
	cfg.MemoryBudget = uint64(c.Scenario.MemoryBudget)
	return cfg
}

// CaptureConfig builds the heap capture configuration. prefix is usually
// the scenario or run name.
func (c LaunchConfig) CaptureConfig(prefix string) diagnostics.CaptureConfig {
	return diagnostics.CaptureConfig{
		Dir:     c.Diagnostics.CaptureDir,
		Prefix:  prefix,
		Format:  diagnostics.Format(c.Diagnostics.CaptureFormat),
		GCFirst: true,
	}
}

// DetectorConfig converts the percent thresholds to a regression.Config.
// P95 sits halfway between the P50 and P99 thresholds.
func (c LaunchConfig) DetectorConfig() regression.Config {
	r := c.Regression
	cfg := regression.DefaultConfig()
	cfg.P50Increase = r.P50Increase / 100
	cfg.P99Increase = r.P99Increase / 100
	cfg.P95Increase = (cfg.P50Increase + cfg.P99Increase) / 2
	cfg.ThroughputDecrease = r.ThroughputDecrease / 100
	cfg.AllocIncrease = r.AllocRateIncrease / 100
	cfg.Significance = r.Significance
	cfg.OutlierIQR = r.OutlierIQR
	return cfg
}

// Apply sets the runtime memory settings and returns a function that
// restores the previous values.
func (r RuntimeConfig) Apply() (restore func()) {
	var undo []func()
	if r.GCPercent != nil {
		prev := debug.SetGCPercent(*r.GCPercent)
		undo = append(undo, func() { debug.SetGCPercent(prev) })
	}
	if r.MemoryLimit > 0 {
		prev := debug.SetMemoryLimit(int64(r.MemoryLimit))
		undo = append(undo, func() { debug.SetMemoryLimit(prev) })
	}
	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
}

// String renders a one-line summary for logs.
func (r RuntimeConfig) String() string {
	gc := "default"
	if r.GCPercent != nil {
		gc = fmt.Sprint(*r.GCPercent)
	}
	limit := "unset"
	if r.MemoryLimit > 0 {
		limit = r.MemoryLimit.String()
	}
	return fmt.Sprintf("gc_percent=%s memory_limit=%s", gc, limit)
}

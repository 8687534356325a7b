// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
)

const instrumentationName = "github.com/AleutianAI/gclab/services/harness/telemetry"

// ErrInvalidOTelConfig is returned when the OTel configuration is invalid.
var ErrInvalidOTelConfig = errors.New("invalid opentelemetry configuration")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// OTelConfig configures the OpenTelemetry sink.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type OTelConfig struct {
	// ServiceName is the service name for telemetry. Required.
	ServiceName string

	// ServiceVersion is recorded as the instrumentation version.
	ServiceVersion string

	// TracerProvider is the tracer provider to use. Nil uses the global one.
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use. Nil uses the global one.
	MeterProvider metric.MeterProvider

	// TraceEnabled enables span creation. Default: true
	TraceEnabled bool

	// MetricsEnabled enables instrument recording. Default: true
	MetricsEnabled bool
}

// DefaultOTelConfig returns tracing and metrics enabled on the global
// providers.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "gclab",
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// Validate checks that required fields are set.
func (c *OTelConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// OpenTelemetry Sink
// -----------------------------------------------------------------------------

// OTelSink exports results via OpenTelemetry.
//
// Description:
//
//	Each RecordRun produces one "run.record" span stamped with the run's
//	start time and one reading on every run instrument. Failed runs get an
//	error span status; cancelled and timed-out runs are recorded with
//	incomplete=true but no error status. RecordScenario does the same for
//	leak scenarios under "scenario.record".
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	config *OTelConfig
	tracer trace.Tracer
	meter  metric.Meter

	runDuration    metric.Float64Histogram
	runSamples     metric.Int64Counter
	runLatencyP50  metric.Float64Histogram
	runLatencyP99  metric.Float64Histogram
	runThroughput  metric.Float64Histogram
	runAllocBytes  metric.Int64Counter
	runGCCycles    metric.Int64Counter
	runIncomplete  metric.Int64Counter
	runFailures    metric.Int64Counter
	scenarioTicks  metric.Int64Counter
	scenarioRetain metric.Int64Gauge
	scenarioHeap   metric.Int64Gauge
	exhaustions    metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates a sink on the providers named by config.
//
// Outputs:
//   - *OTelSink: Never nil on success.
//   - error: ErrInvalidOTelConfig for a nil or invalid config, or an
//     instrument creation error.
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidOTelConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOTelConfig, err)
	}
	cfg := *config

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	sink := &OTelSink{
		config: &cfg,
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:  mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}
	if cfg.MetricsEnabled {
		if err := sink.initializeMetrics(); err != nil {
			return nil, err
		}
	}
	return sink, nil
}

func (s *OTelSink) initializeMetrics() error {
	var err error
	// Instruments are created in order; the first failure is kept.
	hist := func(name, desc, unit string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = s.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return h
	}
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = s.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}
	gauge := func(name, desc, unit string) metric.Int64Gauge {
		if err != nil {
			return nil
		}
		var g metric.Int64Gauge
		g, err = s.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return g
	}

	s.runDuration = hist("gclab.run.duration", "Run duration including warm-up", "s")
	s.runSamples = counter("gclab.run.samples", "Samples in the measured window", "{sample}")
	s.runLatencyP50 = hist("gclab.run.latency.p50", "Median sample latency", "s")
	s.runLatencyP99 = hist("gclab.run.latency.p99", "P99 sample latency", "s")
	s.runThroughput = hist("gclab.run.throughput", "Items per second over the measured window", "{item}/s")
	s.runAllocBytes = counter("gclab.run.alloc_bytes", "Bytes allocated during the run", "By")
	s.runGCCycles = counter("gclab.run.gc_cycles", "Collections completed during the run", "{cycle}")
	s.runIncomplete = counter("gclab.run.incomplete", "Runs stopped before their measurement bound", "{run}")
	s.runFailures = counter("gclab.run.failures", "Runs ended by an internal failure", "{run}")
	s.scenarioTicks = counter("gclab.scenario.ticks", "Scenario ticks completed", "{tick}")
	s.scenarioRetain = gauge("gclab.scenario.retained", "Objects retained at scenario end", "{object}")
	s.scenarioHeap = gauge("gclab.scenario.heap", "Live heap at scenario end", "By")
	s.exhaustions = counter("gclab.scenario.exhaustions", "Scenarios stopped by the memory budget", "{scenario}")
	return err
}

func (s *OTelSink) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// RecordRun implements Sink.
func (s *OTelSink) RecordRun(ctx context.Context, res *runner.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	if res == nil {
		return ErrNilData
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("run.kind", res.Kind.String()),
		attribute.Bool("run.leak_mode", res.LeakMode),
		attribute.Bool("run.incomplete", res.Incomplete()),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "run.record",
			trace.WithAttributes(attrs...),
			trace.WithAttributes(attribute.String("run.id", res.RunID)),
			trace.WithTimestamp(res.StartedAt),
		)
		rep := res.Report
		span.SetAttributes(
			attribute.String("run.item_size", res.ItemSize),
			attribute.Int64("run.seed", int64(res.Seed)),
			attribute.Int("report.count", rep.Count),
			attribute.Int("report.failures", rep.Failures),
			attribute.Float64("latency.p50_seconds", rep.Latency.P50.Seconds()),
			attribute.Float64("latency.p99_seconds", rep.Latency.P99.Seconds()),
			attribute.Float64("latency.max_seconds", rep.Latency.Max.Seconds()),
			attribute.Float64("throughput.items_per_second", rep.Throughput.ItemsPerSecond),
			attribute.Float64("throughput.bytes_per_second", rep.Throughput.BytesPerSecond),
			attribute.Int("report.pause_suspects", rep.PauseSuspects),
			attribute.Int64("memory.heap_delta", res.Memory.HeapAllocDelta),
			attribute.Int("memory.gc_cycles", int(res.Memory.GCCycles)),
			attribute.Int("retention.retained", res.Retention.Strong),
		)
		if rep.Reason != "" {
			span.SetAttributes(attribute.String("run.stop_reason", rep.Reason))
		}
		if res.Failure != "" {
			span.SetStatus(codes.Error, res.Failure)
		}
		span.End(trace.WithTimestamp(res.StartedAt.Add(res.Duration)))
	}

	if s.config.MetricsEnabled {
		set := metric.WithAttributes(attrs...)
		s.runDuration.Record(ctx, res.Duration.Seconds(), set)
		s.runSamples.Add(ctx, int64(res.Report.Count), set)
		if res.Report.Count > 0 {
			s.runLatencyP50.Record(ctx, res.Report.Latency.P50.Seconds(), set)
			s.runLatencyP99.Record(ctx, res.Report.Latency.P99.Seconds(), set)
			s.runThroughput.Record(ctx, res.Report.Throughput.ItemsPerSecond, set)
		}
		s.runAllocBytes.Add(ctx, int64(res.Memory.AllocBytes), set)
		s.runGCCycles.Add(ctx, int64(res.Memory.GCCycles), set)
		if res.Incomplete() {
			s.runIncomplete.Add(ctx, 1, set)
		}
		if res.Failure != "" {
			s.runFailures.Add(ctx, 1, set)
		}
	}
	return nil
}

// RecordScenario implements Sink.
func (s *OTelSink) RecordScenario(ctx context.Context, sum *scenario.Summary) error {
	if ctx == nil {
		return ErrNilContext
	}
	if sum == nil {
		return ErrNilData
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("scenario.name", sum.Scenario.Name),
		attribute.String("scenario.mode", sum.Scenario.Mode),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "scenario.record", trace.WithAttributes(attrs...))
		span.SetAttributes(
			attribute.Int64("scenario.ticks", sum.Ticks),
			attribute.Int("scenario.retained", sum.Scenario.Retained),
			attribute.Int64("scenario.removed", int64(sum.Scenario.Removed)),
			attribute.Float64("scenario.elapsed_seconds", sum.Elapsed.Seconds()),
			attribute.Int64("memory.heap_alloc", int64(sum.Final.HeapAlloc)),
			attribute.Int64("memory.rss", int64(sum.Final.RSS)),
			attribute.Bool("scenario.exhausted", sum.Exhausted),
		)
		if sum.Exhausted {
			span.SetStatus(codes.Error, "memory budget exceeded")
		}
		span.End()
	}

	if s.config.MetricsEnabled {
		set := metric.WithAttributes(attrs...)
		s.scenarioTicks.Add(ctx, sum.Ticks, set)
		s.scenarioRetain.Record(ctx, int64(sum.Scenario.Retained), set)
		s.scenarioHeap.Record(ctx, int64(sum.Final.HeapAlloc), set)
		if sum.Exhausted {
			s.exhaustions.Add(ctx, 1, set)
		}
	}
	return nil
}

// StartRunSpan starts a span covering a live run. The caller ends it.
func (s *OTelSink) StartRunSpan(ctx context.Context, runID string, kind runner.Kind) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.tracer.Start(ctx, "run."+kind.String(),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.kind", kind.String()),
		),
	)
}

// ObserveSpan returns a runner.Observer that adds a "state_change" event
// to span on every transition.
func (s *OTelSink) ObserveSpan(span trace.Span) runner.Observer {
	return runner.ObserverFunc(func(runID string, kind runner.Kind, from, to runner.State) {
		span.AddEvent("state_change", trace.WithAttributes(
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		))
	})
}

// Flush is a no-op: the providers own batching and export.
func (s *OTelSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return s.checkOpen()
}

// Close marks the sink closed. Providers are left running for their owner
// to shut down.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Sink = (*OTelSink)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
	"github.com/AleutianAI/gclab/services/harness/telemetry"
)

// Measurement names written by InfluxSink.
const (
	MeasurementRun      = "gclab_run"
	MeasurementScenario = "gclab_scenario"
	MeasurementStatus   = "gclab_scenario_status"
)

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration
}

// Validate checks that the bucket is fully addressed.
func (c InfluxConfig) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("influx url is required")
	case c.Org == "":
		return errors.New("influx org is required")
	case c.Bucket == "":
		return errors.New("influx bucket is required")
	}
	return nil
}

// PointWriter is the subset of api.WriteAPIBlocking used by InfluxSink.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
	Flush(ctx context.Context) error
}

// InfluxSink writes results and scenario summaries as points.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	writer PointWriter
	client influxdb2.Client

	mu     sync.Mutex
	closed bool
}

var _ telemetry.Sink = (*InfluxSink)(nil)

// NewInfluxSink connects a blocking writer to cfg's bucket. The server is
// not contacted until the first write or Ping.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(timeout.Seconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxSink{
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		client: client,
	}, nil
}

// NewInfluxSinkWithWriter wraps an existing writer. Close does not close
// any client.
func NewInfluxSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// Ping checks that the server is reachable.
func (s *InfluxSink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping influx: %w", err)
	}
	if !ok {
		return errors.New("influx server is not ready")
	}
	return nil
}

func (s *InfluxSink) write(ctx context.Context, p *write.Point) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return telemetry.ErrSinkClosed
	}
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write %s point: %w", p.Name(), err)
	}
	return nil
}

// RunPoint converts a result into a point stamped at its start time.
func RunPoint(r *runner.Result) *write.Point {
	rep := r.Report
	outcome := "complete"
	switch {
	case r.Failure != "":
		outcome = "failed"
	case rep.Incomplete:
		outcome = "incomplete"
	}
	p := influxdb2.NewPointWithMeasurement(MeasurementRun).
		AddTag("kind", r.Kind.String()).
		AddTag("run_id", r.RunID).
		AddTag("item_size", r.ItemSize).
		AddTag("leak_mode", strconv.FormatBool(r.LeakMode)).
		AddTag("outcome", outcome).
		AddField("count", rep.Count).
		AddField("failures", rep.Failures).
		AddField("warmup_discarded", rep.WarmupDiscarded).
		AddField("p50_ns", rep.Latency.P50.Nanoseconds()).
		AddField("p95_ns", rep.Latency.P95.Nanoseconds()).
		AddField("p99_ns", rep.Latency.P99.Nanoseconds()).
		AddField("p999_ns", rep.Latency.P999.Nanoseconds()).
		AddField("max_ns", rep.Latency.Max.Nanoseconds()).
		AddField("items_per_sec", rep.Throughput.ItemsPerSecond).
		AddField("bytes_per_sec", rep.Throughput.BytesPerSecond).
		AddField("pause_suspects", rep.PauseSuspects).
		AddField("alloc_bytes", r.Memory.AllocBytes).
		AddField("heap_delta", r.Memory.HeapAllocDelta).
		AddField("gc_cycles", r.Memory.GCCycles).
		AddField("gc_pause_ns", r.Memory.GCPauseTotal.Nanoseconds()).
		AddField("retained", r.Retention.Strong).
		AddField("duration_ns", r.Duration.Nanoseconds()).
		SetTime(r.StartedAt)
	if r.GoVersion != "" {
		p.AddTag("go_version", r.GoVersion)
	}
	return p
}

// ScenarioPoint converts a scenario summary into a point stamped at at.
func ScenarioPoint(s *scenario.Summary, at time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(MeasurementScenario).
		AddTag("scenario", s.Scenario.Name).
		AddTag("mode", s.Scenario.Mode).
		AddTag("exhausted", strconv.FormatBool(s.Exhausted)).
		AddField("ticks", s.Ticks).
		AddField("retained", s.Scenario.Retained).
		AddField("removed", s.Scenario.Removed).
		AddField("heap_alloc", s.Final.HeapAlloc).
		AddField("heap_objects", s.Final.HeapObjects).
		AddField("num_gc", s.Final.NumGC).
		AddField("elapsed_ns", s.Elapsed.Nanoseconds()).
		SetTime(at)
}

// StatusPoint converts a live scenario status into a point.
func StatusPoint(st scenario.Status) *write.Point {
	return influxdb2.NewPointWithMeasurement(MeasurementStatus).
		AddTag("scenario", st.Scenario.Name).
		AddTag("mode", st.Scenario.Mode).
		AddField("ticks", st.Scenario.Ticks).
		AddField("retained", st.Scenario.Retained).
		AddField("heap_alloc", st.Runtime.HeapAlloc).
		AddField("num_gc", st.Runtime.NumGC).
		AddField("elapsed_ns", st.Elapsed.Nanoseconds()).
		SetTime(st.Runtime.At)
}

// RecordRun implements telemetry.Sink.
func (s *InfluxSink) RecordRun(ctx context.Context, r *runner.Result) error {
	if r == nil {
		return telemetry.ErrNilData
	}
	return s.write(ctx, RunPoint(r))
}

// RecordScenario implements telemetry.Sink.
func (s *InfluxSink) RecordScenario(ctx context.Context, sum *scenario.Summary) error {
	if sum == nil {
		return telemetry.ErrNilData
	}
	return s.write(ctx, ScenarioPoint(sum, time.Now()))
}

// RecordStatus writes a live status point.
func (s *InfluxSink) RecordStatus(ctx context.Context, st scenario.Status) error {
	return s.write(ctx, StatusPoint(st))
}

// Flush implements telemetry.Sink.
func (s *InfluxSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	return s.writer.Flush(ctx)
}

// Close closes the client. Calling Close again is a no-op.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
